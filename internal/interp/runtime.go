package interp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/luahost/internal/debugger"
)

// DefaultCallStackSize is the LState call stack size used when none is set.
const DefaultCallStackSize = 256

// Host is the environment a Runtime reports to. All methods are called on
// the loop goroutine from within a running evaluation.
type Host interface {
	// OnStep is called before every instrumented statement.
	OnStep(sp debugger.StepPoint) debugger.StepResult

	// Output writes console text to stream ("stdout" or "stderr").
	Output(stream, text string)

	// ReadLine blocks until the client sends a line. ok is false when the
	// read was aborted.
	ReadLine(prompt string) (line string, ok bool)

	// RunCommand runs a child process. With input set the client's lines are
	// forwarded to the child's stdin.
	RunCommand(command string, input bool) (exitCode int, err error)

	// After schedules cb to run on the loop once delay has elapsed.
	After(delay time.Duration, cb Callback)
}

// Callback is a deferred script function invocation.
type Callback func(ctx context.Context) (Result, error)

// Result is the outcome of an evaluation that did not fail.
type Result struct {
	// Values are the display forms of the returned values.
	Values []string

	// Native are the returned values converted to Go.
	Native []any

	// Interrupted is set when the evaluation was cancelled.
	Interrupted bool
}

// Runtime is a gopher-lua state with step-point instrumentation.
type Runtime struct {
	L      *lua.LState
	host   Host
	bridge *Bridge
	logger *slog.Logger

	callStackSize int
	sandboxed     bool
	instrument    bool

	chunks       []string
	chunkIndex   map[string]int
	instrumented map[string]bool
	synthetic    map[string]bool

	stepFn *lua.LFunction

	depth  int
	cancel context.CancelFunc

	closed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCallStackSize sets the LState call stack size.
func WithCallStackSize(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.callStackSize = n
		}
	}
}

// WithSandbox removes file and code loading functions from the globals.
func WithSandbox(enabled bool) Option {
	return func(r *Runtime) {
		r.sandboxed = enabled
	}
}

// WithInstrumentation controls whether evaluated code reports step points.
func WithInstrumentation(enabled bool) Option {
	return func(r *Runtime) {
		r.instrument = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a runtime reporting to host.
func New(host Host, opts ...Option) *Runtime {
	r := &Runtime{
		host:          host,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		callStackSize: DefaultCallStackSize,
		sandboxed:     true,
		instrument:    true,
		chunkIndex:    make(map[string]int),
		instrumented:  make(map[string]bool),
		synthetic:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.L = lua.NewState(lua.Options{
		CallStackSize: r.callStackSize,
		SkipOpenLibs:  true,
	})
	r.bridge = NewBridge(r.L)

	openLibraries(r.L, r.sandboxed)
	if r.sandboxed {
		NewSandbox(r.L).Install()
	}
	r.installBuiltins()
	r.stepFn = r.L.NewFunction(r.luaStep)
	return r
}

// openLibraries opens the standard libraries. Unsandboxed states also get
// os and package; io is always replaced by the console builtins.
func openLibraries(L *lua.LState, sandboxed bool) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
	if !sandboxed {
		lua.OpenPackage(L)
		lua.OpenOs(L)
		if osMod, ok := L.GetGlobal("os").(*lua.LTable); ok {
			osMod.RawSetString("exit", lua.LNil)
		}
	}
}

// IsSynthetic reports whether file names a chunk registered as generated.
func (r *Runtime) IsSynthetic(file string) bool {
	return r.synthetic[file]
}

// RegisterSynthetic marks a chunk name as generated code.
func (r *Runtime) RegisterSynthetic(name string) {
	r.synthetic[name] = true
}

// Depth returns the number of evaluations in progress.
func (r *Runtime) Depth() int {
	return r.depth
}

// Load parses and compiles code under the chunk name. Loading the same name
// again reuses its chunk index.
func (r *Runtime) Load(name, code string) (*lua.LFunction, error) {
	if r.closed {
		return nil, ErrRuntimeClosed
	}

	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, &ScriptError{Message: err.Error(), Cause: CauseSyntax}
	}

	if !r.instrument {
		proto, err := lua.Compile(chunk, name)
		if err != nil {
			return nil, &ScriptError{Message: err.Error(), Cause: CauseSyntax}
		}
		return r.L.NewFunctionFromProto(proto), nil
	}

	proto, err := lua.Compile(instrumenter{chunk: r.indexChunk(name)}.wrap(chunk), name)
	if err != nil {
		return nil, &ScriptError{Message: err.Error(), Cause: CauseSyntax}
	}
	return r.bindStep(r.L.NewFunctionFromProto(proto))
}

// indexChunk returns the index step calls use to report name.
func (r *Runtime) indexChunk(name string) int {
	if idx, ok := r.chunkIndex[name]; ok {
		return idx
	}
	idx := len(r.chunks)
	r.chunks = append(r.chunks, name)
	r.chunkIndex[name] = idx
	r.instrumented[name] = true
	return idx
}

// bindStep runs an instrumented loader and returns the chunk closure it
// builds around the step function.
func (r *Runtime) bindStep(loader *lua.LFunction) (*lua.LFunction, error) {
	base := r.L.GetTop()
	defer r.L.SetTop(base)
	if err := r.L.CallByParam(lua.P{Fn: loader, NRet: 1, Protect: true}, r.stepFn); err != nil {
		return nil, newScriptError(err)
	}
	fn, ok := r.L.Get(-1).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("chunk loader returned %s", r.L.Get(-1).Type())
	}
	return fn, nil
}

// Evaluate compiles and runs code.
func (r *Runtime) Evaluate(ctx context.Context, name, code string) (Result, error) {
	fn, err := r.Load(name, code)
	if err != nil {
		return Result{}, err
	}
	return r.Invoke(ctx, fn)
}

// EvaluateExpression runs src as an expression when it parses as one and as
// a chunk otherwise, so "x + 1" yields its value.
func (r *Runtime) EvaluateExpression(ctx context.Context, name, src string) (Result, error) {
	fn, err := r.Load(name, "return "+src)
	if err != nil {
		fn, err = r.Load(name, src)
		if err != nil {
			return Result{}, err
		}
	}
	return r.Invoke(ctx, fn)
}

// EvaluateFile runs the file at path. The path is the chunk name.
func (r *Runtime) EvaluateFile(ctx context.Context, path string) (Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, &ScriptError{Message: err.Error(), Cause: CauseFile}
	}
	return r.Evaluate(ctx, path, string(content))
}

// Invoke calls fn with args. The outermost invocation installs ctx as the
// cancellation checkpoint; nested invocations run under the outer one.
func (r *Runtime) Invoke(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (res Result, err error) {
	if r.closed {
		return Result{}, ErrRuntimeClosed
	}

	if r.depth == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		r.cancel = cancel
		r.L.SetContext(ctx)
		defer func() {
			r.L.RemoveContext()
			cancel()
			r.cancel = nil
		}()
	}
	r.depth++
	defer func() { r.depth-- }()

	base := r.L.GetTop()
	callErr := r.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...)
	if callErr != nil {
		r.L.SetTop(base)
		if r.interrupted() {
			r.logger.Debug("evaluation interrupted", "depth", r.depth)
			return Result{Interrupted: true}, nil
		}
		return Result{}, newScriptError(callErr)
	}

	n := r.L.GetTop() - base
	for i := 1; i <= n; i++ {
		v := r.L.Get(base + i)
		res.Values = append(res.Values, r.toString(v))
		res.Native = append(res.Native, r.bridge.ToGoValue(v))
	}
	r.L.SetTop(base)
	return res, nil
}

func (r *Runtime) interrupted() bool {
	ctx := r.L.Context()
	return ctx != nil && ctx.Err() != nil
}

// Abort cancels the outermost evaluation.
func (r *Runtime) Abort() {
	if r.cancel != nil {
		r.cancel()
	}
}

// luaStep is the step-point builtin.
func (r *Runtime) luaStep(L *lua.LState) int {
	line := L.CheckInt(1)
	chunk := L.CheckInt(2)
	if r.host == nil || chunk < 0 || chunk >= len(r.chunks) {
		return 0
	}

	sp := &stepPoint{r: r, L: L, pos: debugger.Position{File: r.chunks[chunk], Line: line}}
	if r.host.OnStep(sp).Abort {
		r.Abort()
		L.RaiseError("%s", ErrAborted.Error())
	}
	return 0
}

// toString returns the display form of v, honouring __tostring.
func (r *Runtime) toString(v lua.LValue) string {
	switch v.Type() {
	case lua.LTString, lua.LTNumber, lua.LTBool, lua.LTNil:
		return v.String()
	}
	tostring := r.L.GetGlobal("tostring")
	if tostring.Type() != lua.LTFunction {
		return v.String()
	}
	if err := r.L.CallByParam(lua.P{Fn: tostring, NRet: 1, Protect: true}, v); err != nil {
		return v.String()
	}
	s := r.L.Get(-1).String()
	r.L.Pop(1)
	return s
}

// Close releases the LState.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.L.Close()
	r.closed = true
	return nil
}

// IsClosed returns true if the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	return r.closed
}

// String identifies the runtime in logs.
func (r *Runtime) String() string {
	return fmt.Sprintf("lua runtime (chunks=%d depth=%d)", len(r.chunks), r.depth)
}
