package interp

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luahost/internal/debugger"
)

// stepPoint implements debugger.StepPoint over the live LState stack. Frames
// are collected on first use.
type stepPoint struct {
	r   *Runtime
	L   *lua.LState
	pos debugger.Position

	collected bool
	frames    []*lua.Debug
}

func (p *stepPoint) Position() debugger.Position {
	return p.pos
}

func (p *stepPoint) Depth() int {
	p.collect()
	return len(p.frames)
}

func (p *stepPoint) Frame() debugger.FrameRef {
	p.collect()
	if len(p.frames) == 0 {
		return debugger.FrameRef{Source: p.pos.File}
	}
	return frameRef(p.frames[0])
}

func (p *stepPoint) Stack() []debugger.StackFrame {
	p.collect()
	stack := make([]debugger.StackFrame, len(p.frames))
	for i, dbg := range p.frames {
		line := dbg.CurrentLine
		if i == 0 {
			line = p.pos.Line
		}
		stack[i] = debugger.StackFrame{
			Position: debugger.Position{File: dbg.Source, Line: line},
			Frame:    frameRef(dbg),
			Function: functionName(dbg),
			Depth:    len(p.frames) - i,
		}
	}
	return stack
}

// Evaluate evaluates expr with the innermost frame's locals and upvalues in
// scope. Assignments go to globals.
func (p *stepPoint) Evaluate(expr string) (string, bool, error) {
	p.collect()
	var env *lua.LTable
	if len(p.frames) > 0 {
		env = p.r.frameEnv(p.frames[0])
	} else {
		env = p.r.L.G.Global
	}
	v, err := p.r.evalIn(env, expr)
	if err != nil {
		return "", false, err
	}
	return p.r.toString(v), lua.LVAsBool(v), nil
}

// collect walks the stack and keeps frames of instrumented chunks,
// innermost first.
func (p *stepPoint) collect() {
	if p.collected {
		return
	}
	p.collected = true
	for level := 0; ; level++ {
		dbg, ok := p.L.GetStack(level)
		if !ok {
			break
		}
		if _, err := p.L.GetInfo("Sl", dbg, lua.LNil); err != nil {
			continue
		}
		if !p.r.instrumented[dbg.Source] {
			continue
		}
		// Names are best effort.
		_, _ = p.L.GetInfo("n", dbg, lua.LNil)
		p.frames = append(p.frames, dbg)
	}
}

func frameRef(dbg *lua.Debug) debugger.FrameRef {
	return debugger.FrameRef{Source: dbg.Source, Defined: dbg.LineDefined}
}

func functionName(dbg *lua.Debug) string {
	if dbg.LineDefined == 0 {
		return "main chunk"
	}
	return dbg.Name
}

// frameEnv builds a table holding the frame's upvalues and active locals,
// falling back to globals for everything else.
func (r *Runtime) frameEnv(dbg *lua.Debug) *lua.LTable {
	env := r.L.NewTable()
	mt := r.L.NewTable()
	mt.RawSetString("__index", r.L.G.Global)
	mt.RawSetString("__newindex", r.L.G.Global)
	r.L.SetMetatable(env, mt)

	if fv, err := r.L.GetInfo("f", dbg, lua.LNil); err == nil {
		if fn, ok := fv.(*lua.LFunction); ok {
			for i := 1; ; i++ {
				name, v := r.L.GetUpvalue(fn, i)
				if name == "" {
					break
				}
				if strings.HasPrefix(name, "(") {
					continue
				}
				env.RawSetString(name, v)
			}
		}
	}

	for i := 1; ; i++ {
		name, v := r.L.GetLocal(dbg, i)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") {
			continue
		}
		env.RawSetString(name, v)
	}
	return env
}

// evalIn evaluates src as an expression, or as a chunk when it is not one,
// with env as its global table. It returns the first result.
func (r *Runtime) evalIn(env *lua.LTable, src string) (lua.LValue, error) {
	fn, err := r.L.LoadString("return " + src)
	if err != nil {
		fn, err = r.L.LoadString(src)
		if err != nil {
			return lua.LNil, &ScriptError{Message: err.Error(), Cause: CauseSyntax}
		}
	}
	fn.Env = env

	base := r.L.GetTop()
	if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		r.L.SetTop(base)
		return lua.LNil, newScriptError(err)
	}
	v := r.L.Get(-1)
	r.L.SetTop(base)
	return v, nil
}

// EvaluateInGlobals evaluates src as an expression or chunk against the
// globals without instrumentation.
func (r *Runtime) EvaluateInGlobals(src string) (Result, error) {
	if r.closed {
		return Result{}, ErrRuntimeClosed
	}
	v, err := r.evalIn(r.L.G.Global, src)
	if err != nil {
		return Result{}, err
	}
	return Result{Values: []string{r.toString(v)}, Native: []any{r.bridge.ToGoValue(v)}}, nil
}
