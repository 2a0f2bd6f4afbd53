package interp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/luahost/internal/debugger"
)

type fakeHost struct {
	steps  []debugger.Position
	onStep func(sp debugger.StepPoint) debugger.StepResult

	stdout strings.Builder
	stderr strings.Builder

	lines   []string
	prompts []string

	callbacks []Callback
	delays    []time.Duration

	exitCode int
	commands []string
	inputs   []bool
}

func (h *fakeHost) OnStep(sp debugger.StepPoint) debugger.StepResult {
	h.steps = append(h.steps, sp.Position())
	if h.onStep != nil {
		return h.onStep(sp)
	}
	return debugger.StepResult{}
}

func (h *fakeHost) Output(stream, text string) {
	if stream == Stderr {
		h.stderr.WriteString(text)
		return
	}
	h.stdout.WriteString(text)
}

func (h *fakeHost) ReadLine(prompt string) (string, bool) {
	h.prompts = append(h.prompts, prompt)
	if len(h.lines) == 0 {
		return "", false
	}
	line := h.lines[0]
	h.lines = h.lines[1:]
	return line, true
}

func (h *fakeHost) RunCommand(command string, input bool) (int, error) {
	h.commands = append(h.commands, command)
	h.inputs = append(h.inputs, input)
	return h.exitCode, nil
}

func (h *fakeHost) After(delay time.Duration, cb Callback) {
	h.delays = append(h.delays, delay)
	h.callbacks = append(h.callbacks, cb)
}

func (h *fakeHost) stepLines() []int {
	out := make([]int, len(h.steps))
	for i, p := range h.steps {
		out[i] = p.Line
	}
	return out
}

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *fakeHost) {
	t.Helper()
	host := &fakeHost{}
	r := New(host, opts...)
	t.Cleanup(func() { r.Close() })
	return r, host
}

func evaluate(t *testing.T, r *Runtime, name, code string) Result {
	t.Helper()
	res, err := r.Evaluate(context.Background(), name, code)
	if err != nil {
		t.Fatalf("Evaluate(%q) failed: %v", code, err)
	}
	return res
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEvaluateReturnsValues(t *testing.T) {
	r, _ := newTestRuntime(t)

	res := evaluate(t, r, "values.lua", `return 1 + 2, "x", {1, 2}`)
	if len(res.Values) != 3 {
		t.Fatalf("expected 3 values, got %v", res.Values)
	}
	if res.Values[0] != "3" || res.Values[1] != "x" {
		t.Errorf("unexpected values %v", res.Values)
	}
	if res.Native[0] != int64(3) {
		t.Errorf("expected native int64 3, got %#v", res.Native[0])
	}
	arr, ok := res.Native[2].([]any)
	if !ok || len(arr) != 2 || arr[1] != int64(2) {
		t.Errorf("expected native slice, got %#v", res.Native[2])
	}
	if res.Interrupted {
		t.Error("unexpected interruption")
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	r, _ := newTestRuntime(t)

	_, err := r.Evaluate(context.Background(), "bad.lua", "local = ")
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if se.Cause != CauseSyntax {
		t.Errorf("expected syntax cause, got %q", se.Cause)
	}
}

func TestEvaluateRuntimeError(t *testing.T) {
	r, _ := newTestRuntime(t)

	_, err := r.Evaluate(context.Background(), "test.lua", "local x = 1\nerror('boom')")
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if se.Message != "boom" {
		t.Errorf("expected message %q, got %q", "boom", se.Message)
	}
	if se.CallSite != "test.lua:2" {
		t.Errorf("expected call site test.lua:2, got %q", se.CallSite)
	}
	if se.Cause == CauseSyntax {
		t.Error("runtime error reported as syntax error")
	}

	// The state stays usable.
	if res := evaluate(t, r, "after.lua", "return 7"); res.Values[0] != "7" {
		t.Errorf("unexpected result %v", res.Values)
	}
}

func TestStepPointsPerStatement(t *testing.T) {
	r, host := newTestRuntime(t)

	evaluate(t, r, "steps.lua", `local x = 1
local y = x + 1
if y > 1 then
  y = y * 2
end`)

	if got := host.stepLines(); !equalInts(got, []int{1, 2, 3, 4}) {
		t.Errorf("expected steps [1 2 3 4], got %v", got)
	}
	for _, p := range host.steps {
		if p.File != "steps.lua" {
			t.Errorf("unexpected step file %q", p.File)
		}
	}
}

func TestStepPointsInFunctions(t *testing.T) {
	r, host := newTestRuntime(t)

	var inner []debugger.StackFrame
	var value string
	var depthAtCall int
	host.onStep = func(sp debugger.StepPoint) debugger.StepResult {
		switch sp.Position().Line {
		case 2:
			inner = sp.Stack()
			var err error
			value, _, err = sp.Evaluate("a + 1")
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
			}
		case 4:
			depthAtCall = sp.Depth()
		}
		return debugger.StepResult{}
	}

	res := evaluate(t, r, "fn.lua", `local function double(a)
  return a * 2
end
local r = double(3)
return r`)

	if got := host.stepLines(); !equalInts(got, []int{1, 4, 2, 5}) {
		t.Errorf("expected steps [1 4 2 5], got %v", got)
	}
	if res.Values[0] != "6" {
		t.Errorf("expected 6, got %v", res.Values)
	}
	if depthAtCall != 1 {
		t.Errorf("expected depth 1 at the call, got %d", depthAtCall)
	}
	if len(inner) != 2 {
		t.Fatalf("expected 2 frames, got %+v", inner)
	}
	if inner[0].Depth != 2 || inner[0].Frame != (debugger.FrameRef{Source: "fn.lua", Defined: 1}) {
		t.Errorf("unexpected inner frame %+v", inner[0])
	}
	if inner[1].Function != "main chunk" || inner[1].Position.Line != 4 {
		t.Errorf("unexpected outer frame %+v", inner[1])
	}
	if value != "4" {
		t.Errorf("expected frame evaluation 4, got %q", value)
	}
}

func TestEvaluateInterruptedByContext(t *testing.T) {
	r, _ := newTestRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := r.Evaluate(ctx, "loop.lua", "while true do end")
	if err != nil {
		t.Fatalf("expected interruption to be absorbed, got %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected interrupted result")
	}

	if res := evaluate(t, r, "after.lua", "return 1"); res.Values[0] != "1" {
		t.Errorf("unexpected result after interruption %v", res.Values)
	}
}

func TestStepAbort(t *testing.T) {
	r, host := newTestRuntime(t)
	host.onStep = func(sp debugger.StepPoint) debugger.StepResult {
		return debugger.StepResult{Abort: sp.Position().Line == 2}
	}

	res, err := r.Evaluate(context.Background(), "abort.lua", "print('a')\nprint('b')\nprint('c')")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Interrupted {
		t.Error("expected aborted evaluation to be interrupted")
	}
	if out := host.stdout.String(); out != "a\n" {
		t.Errorf("expected only first print, got %q", out)
	}
}

func TestConsoleBuiltins(t *testing.T) {
	r, host := newTestRuntime(t)

	evaluate(t, r, "console.lua", `print(1, "a", nil)
io.write("x", 2)
io.stderr:write("e")`)

	if got := host.stdout.String(); got != "1\ta\tnil\nx2" {
		t.Errorf("unexpected stdout %q", got)
	}
	if got := host.stderr.String(); got != "e" {
		t.Errorf("unexpected stderr %q", got)
	}
}

func TestReadLine(t *testing.T) {
	r, host := newTestRuntime(t)
	host.lines = []string{"hello", "42"}

	res := evaluate(t, r, "read.lua", `local a = readline("> ")
local n = io.read("*n")
local c = io.read()
return a, n, c`)

	if res.Values[0] != "hello" || res.Values[1] != "42" || res.Values[2] != "nil" {
		t.Errorf("unexpected values %v", res.Values)
	}
	if len(host.prompts) != 3 || host.prompts[0] != "> " {
		t.Errorf("unexpected prompts %q", host.prompts)
	}
}

func TestTimerAfter(t *testing.T) {
	r, host := newTestRuntime(t)

	evaluate(t, r, "timer.lua", `timer.after(5, function() x = 42 end)`)
	if len(host.callbacks) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(host.callbacks))
	}
	if host.delays[0] != 5*time.Millisecond {
		t.Errorf("expected 5ms delay, got %v", host.delays[0])
	}

	if _, err := host.callbacks[0](context.Background()); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if res := evaluate(t, r, "check.lua", "return x"); res.Values[0] != "42" {
		t.Errorf("expected 42, got %v", res.Values)
	}
}

func TestSystem(t *testing.T) {
	r, host := newTestRuntime(t)
	host.exitCode = 3

	res := evaluate(t, r, "system.lua", `local r = system("make", {input = true})
return r.code, r.ok`)

	if res.Values[0] != "3" || res.Values[1] != "false" {
		t.Errorf("unexpected values %v", res.Values)
	}
	if len(host.commands) != 1 || host.commands[0] != "make" || !host.inputs[0] {
		t.Errorf("unexpected commands %v inputs %v", host.commands, host.inputs)
	}
}

func TestSandbox(t *testing.T) {
	r, _ := newTestRuntime(t)

	res := evaluate(t, r, "sandbox.lua", `return dofile, loadfile, load, require("string") == string`)
	for i, want := range []string{"nil", "nil", "nil", "true"} {
		if res.Values[i] != want {
			t.Errorf("value %d: expected %s, got %s", i, want, res.Values[i])
		}
	}

	if _, err := r.Evaluate(context.Background(), "require.lua", `require("os")`); err == nil {
		t.Error("expected require of os to fail")
	}
}

func TestUnsandboxedHasOs(t *testing.T) {
	r, _ := newTestRuntime(t, WithSandbox(false))

	res := evaluate(t, r, "os.lua", `return type(os.time), os.exit`)
	if res.Values[0] != "function" || res.Values[1] != "nil" {
		t.Errorf("unexpected values %v", res.Values)
	}
}

func TestEvaluateInGlobals(t *testing.T) {
	r, host := newTestRuntime(t)

	evaluate(t, r, "init.lua", "x = 5")
	steps := len(host.steps)

	res, err := r.EvaluateInGlobals("x * 2")
	if err != nil || res.Values[0] != "10" {
		t.Fatalf("EvaluateInGlobals = %v, %v", res.Values, err)
	}
	if _, err := r.EvaluateInGlobals("y = 3"); err != nil {
		t.Fatalf("statement failed: %v", err)
	}
	if res := evaluate(t, r, "check.lua", "return y"); res.Values[0] != "3" {
		t.Errorf("expected 3, got %v", res.Values)
	}
	if len(host.steps) != steps+1 {
		t.Errorf("global evaluation reported step points")
	}
}

func TestStepFunctionUnreachable(t *testing.T) {
	r, host := newTestRuntime(t)

	res := evaluate(t, r, "a.lua", `__luahost_step = nil
local n = 0
for k in pairs(_G) do
  if string.sub(k, 1, 1) == "(" then n = n + 1 end
end
return n`)
	if res.Values[0] != "0" {
		t.Errorf("expected no hidden globals, found %s", res.Values[0])
	}

	host.steps = nil
	res = evaluate(t, r, "b.lua", "local x = 2\nreturn x * 3")
	if res.Values[0] != "6" {
		t.Errorf("expected 6, got %v", res.Values)
	}
	if got := host.stepLines(); !equalInts(got, []int{1, 2}) {
		t.Errorf("expected steps [1 2], got %v", got)
	}
}

func TestChunkVarargsEmpty(t *testing.T) {
	r, _ := newTestRuntime(t)

	res := evaluate(t, r, "va.lua", "return select('#', ...)")
	if res.Values[0] != "0" {
		t.Errorf("expected no chunk arguments, got %s", res.Values[0])
	}
}

func TestChunkIndexReused(t *testing.T) {
	r, host := newTestRuntime(t)

	for i := 0; i < 3; i++ {
		evaluate(t, r, "same.lua", "local a = 1")
	}
	if _, err := r.EvaluateExpression(context.Background(), "<eval>", "1 +"); err == nil {
		t.Fatal("expected syntax error")
	}
	if _, err := r.EvaluateExpression(context.Background(), "<eval>", "2 * 2"); err != nil {
		t.Fatalf("EvaluateExpression failed: %v", err)
	}

	if len(r.chunks) != 2 || len(r.chunkIndex) != 2 {
		t.Errorf("expected 2 chunks, got %v", r.chunks)
	}
	for _, p := range host.steps {
		if p.File != "same.lua" && p.File != "<eval>" {
			t.Errorf("unexpected step file %q", p.File)
		}
	}
}

func TestWithoutInstrumentation(t *testing.T) {
	r, host := newTestRuntime(t, WithInstrumentation(false))

	evaluate(t, r, "plain.lua", "local a = 1\nlocal b = 2")
	if len(host.steps) != 0 {
		t.Errorf("expected no steps, got %v", host.stepLines())
	}
}

func TestSyntheticChunks(t *testing.T) {
	r, _ := newTestRuntime(t)
	r.RegisterSynthetic("<prelude>")
	if !r.IsSynthetic("<prelude>") || r.IsSynthetic("main.lua") {
		t.Error("unexpected synthetic classification")
	}
}

func TestClosedRuntime(t *testing.T) {
	r, _ := newTestRuntime(t)
	r.Close()
	if _, err := r.Evaluate(context.Background(), "x.lua", "return 1"); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("expected ErrRuntimeClosed, got %v", err)
	}
}

func TestNewScriptErrorCallSite(t *testing.T) {
	se := newScriptError(errors.New("<console>:3: attempt to call a nil value"))
	if se.CallSite != "<console>:3" || se.Message != "attempt to call a nil value" {
		t.Errorf("unexpected %+v", se)
	}
	if se.Error() != "<console>:3: attempt to call a nil value" {
		t.Errorf("unexpected Error() %q", se.Error())
	}
}
