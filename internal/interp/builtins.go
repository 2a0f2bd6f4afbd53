package interp

import (
	"context"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Output streams.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// installBuiltins replaces console functions with host-backed versions and
// adds the timer and system modules.
func (r *Runtime) installBuiltins() {
	L := r.L

	L.SetGlobal("print", L.NewFunction(r.luaPrint))
	L.SetGlobal("readline", L.NewFunction(r.luaReadLine))
	L.SetGlobal("system", L.NewFunction(r.luaSystem))

	ioMod := L.NewTable()
	ioMod.RawSetString("write", L.NewFunction(r.writer(Stdout, false)))
	ioMod.RawSetString("read", L.NewFunction(r.luaRead))
	ioMod.RawSetString("stdout", r.streamObject(Stdout))
	ioMod.RawSetString("stderr", r.streamObject(Stderr))
	L.SetGlobal("io", ioMod)

	timerMod := L.NewTable()
	timerMod.RawSetString("after", L.NewFunction(r.luaAfter))
	L.SetGlobal("timer", timerMod)
}

func (r *Runtime) output(stream, text string) {
	if r.host != nil && text != "" {
		r.host.Output(stream, text)
	}
}

func (r *Runtime) joinArgs(L *lua.LState, from int, sep string) string {
	var b strings.Builder
	for i := from; i <= L.GetTop(); i++ {
		if i > from {
			b.WriteString(sep)
		}
		b.WriteString(r.toString(L.Get(i)))
	}
	return b.String()
}

func (r *Runtime) luaPrint(L *lua.LState) int {
	r.output(Stdout, r.joinArgs(L, 1, "\t")+"\n")
	return 0
}

// writer returns io.write, or the write method of a stream object when
// method is set.
func (r *Runtime) writer(stream string, method bool) lua.LGFunction {
	return func(L *lua.LState) int {
		from := 1
		if method {
			from = 2
		}
		r.output(stream, r.joinArgs(L, from, ""))
		if method {
			L.Push(L.Get(1))
			return 1
		}
		return 0
	}
}

func (r *Runtime) streamObject(stream string) *lua.LTable {
	obj := r.L.NewTable()
	obj.RawSetString("write", r.L.NewFunction(r.writer(stream, true)))
	return obj
}

func (r *Runtime) readLine(L *lua.LState, prompt string) int {
	if r.host == nil {
		L.Push(lua.LNil)
		return 1
	}
	line, ok := r.host.ReadLine(prompt)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(line))
	return 1
}

func (r *Runtime) luaReadLine(L *lua.LState) int {
	return r.readLine(L, L.OptString(1, ""))
}

// luaRead supports the line formats of io.read.
func (r *Runtime) luaRead(L *lua.LState) int {
	switch format := L.OptString(1, "*l"); format {
	case "*l", "*line", "l":
		return r.readLine(L, "")
	case "*n", "*number", "n":
		r.readLine(L, "")
		if s, ok := L.Get(-1).(lua.LString); ok {
			L.Pop(1)
			num, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
			if err != nil {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LNumber(num))
			}
		}
		return 1
	default:
		L.ArgError(1, "unsupported format "+format)
		return 0
	}
}

// luaAfter implements timer.after(ms, fn).
func (r *Runtime) luaAfter(L *lua.LState) int {
	ms := L.CheckNumber(1)
	fn := L.CheckFunction(2)
	if r.host == nil {
		return 0
	}
	delay := time.Duration(float64(ms) * float64(time.Millisecond))
	r.host.After(delay, func(ctx context.Context) (Result, error) {
		return r.Invoke(ctx, fn)
	})
	return 0
}

// luaSystem implements system(command [, {input=bool}]) and returns a table
// {code=<exit code>, ok=<bool>}, or nil and an error message.
func (r *Runtime) luaSystem(L *lua.LState) int {
	command := L.CheckString(1)
	input := false
	if opts := L.OptTable(2, nil); opts != nil {
		input = lua.LVAsBool(opts.RawGetString("input"))
	}
	if r.host == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("system is not available"))
		return 2
	}

	code, err := r.host.RunCommand(command, input)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(r.bridge.ToLuaValue(map[string]any{
		"code": code,
		"ok":   code == 0,
	}))
	return 1
}
