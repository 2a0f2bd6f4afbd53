package debugger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/dshills/luahost/internal/scheduler"
)

// StepPoint is the interpreter's view of one statement about to execute.
// It is only valid for the duration of the OnStep call that received it.
type StepPoint interface {
	// Position is the statement's location.
	Position() Position

	// Depth is the number of script frames on the stack.
	Depth() int

	// Frame identifies the innermost script frame.
	Frame() FrameRef

	// Stack returns the script frames, innermost first.
	Stack() []StackFrame

	// Evaluate evaluates expr in the innermost frame's scope and returns its
	// display form and truthiness.
	Evaluate(expr string) (value string, truthy bool, err error)
}

// Listener receives debugger notifications on the loop goroutine.
type Listener interface {
	// Suspended is called after the state becomes debug-prompt.
	Suspended(reason StopReason, pos Position, stack []StackFrame)

	// Resumed is called before the script continues after a suspension.
	Resumed()

	// BreakpointHit is called for every hit, suspending or not.
	BreakpointHit(bp Breakpoint)

	// Output is called with hit messages, logged values and stacks.
	Output(text string)
}

// StepResult tells the interpreter how to proceed after a step point.
type StepResult struct {
	// Abort asks the interpreter to cancel the running evaluation.
	Abort bool
}

// Engine decides, at every step point, whether to suspend.
//
// RequestPause is safe from any goroutine. All other methods must be called
// on the loop goroutine.
type Engine struct {
	loop     *scheduler.EventLoop
	state    *scheduler.StateRegister
	registry *Registry
	listener Listener
	logger   *slog.Logger

	generated     []string
	generatedFunc func(Position) bool

	command Command
	targets StopTargets
	runTo   Position

	muted     int
	suspended *suspension

	pauseRequested atomic.Bool
}

type suspension struct {
	tok   *scheduler.Token
	point StepPoint
	stack []StackFrame
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithGeneratedSources marks files matching any of the glob patterns as
// generated code for StepIntoTargetCode.
func WithGeneratedSources(patterns ...string) EngineOption {
	return func(e *Engine) {
		e.generated = append(e.generated, patterns...)
	}
}

// WithGeneratedFunc adds a predicate for generated code.
func WithGeneratedFunc(fn func(Position) bool) EngineOption {
	return func(e *Engine) {
		e.generatedFunc = fn
	}
}

// NewEngine creates an engine that suspends on loop and reports to listener.
func NewEngine(loop *scheduler.EventLoop, state *scheduler.StateRegister, registry *Registry, listener Listener, opts ...EngineOption) *Engine {
	e := &Engine{
		loop:     loop,
		state:    state,
		registry: registry,
		listener: listener,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the breakpoint registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Command returns the pending command.
func (e *Engine) Command() Command {
	return e.command
}

// IsSuspended reports whether a script is stopped at the debug prompt.
func (e *Engine) IsSuspended() bool {
	return e.suspended != nil
}

// SuspendedPoint returns the step point of the current suspension.
func (e *Engine) SuspendedPoint() (StepPoint, bool) {
	if e.suspended == nil {
		return nil, false
	}
	return e.suspended.point, true
}

// Mute disables step handling until the returned function is called. Calls
// nest.
func (e *Engine) Mute() (unmute func()) {
	e.muted++
	done := false
	return func() {
		if !done {
			done = true
			e.muted--
		}
	}
}

// IsGenerated reports whether pos lies in generated code.
func (e *Engine) IsGenerated(pos Position) bool {
	if e.generatedFunc != nil && e.generatedFunc(pos) {
		return true
	}
	for _, pattern := range e.generated {
		if ok, _ := filepath.Match(pattern, pos.File); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(pos.File)); ok {
			return true
		}
	}
	return false
}

// RequestPause asks a running script to stop at its next step point. It is
// ignored unless the state is busy.
func (e *Engine) RequestPause() bool {
	if !e.state.Is(scheduler.StateBusy) {
		return false
	}
	e.pauseRequested.Store(true)
	return true
}

// HandleCommand applies a client command.
//
// Pause and Abort are accepted while a script runs; Abort also while it is
// suspended. Every other command resumes a suspended script and is ignored
// unless the state is debug-prompt. It reports whether the command was
// accepted.
func (e *Engine) HandleCommand(cmd Command, target Position) bool {
	st := e.state.Get()

	switch cmd {
	case Pause:
		return e.RequestPause()
	case Abort:
		switch st {
		case scheduler.StateBusy:
			e.command = Abort
			return true
		case scheduler.StateDebugPrompt:
			return e.resume(Abort)
		}
		return false
	}

	if st != scheduler.StateDebugPrompt || e.suspended == nil {
		e.logger.Debug("debugger command ignored", "command", cmd.String(), "state", st.String())
		return false
	}

	switch cmd {
	case StepOver:
		e.targets = NewStopTargets(e.suspended.stack, false)
	case StepOut:
		e.targets = NewStopTargets(e.suspended.stack, true)
	case RunToPosition:
		if !target.IsValid() {
			return false
		}
		e.runTo = target
	}
	return e.resume(cmd)
}

func (e *Engine) resume(cmd Command) bool {
	if e.suspended == nil {
		return false
	}
	e.command = cmd
	return e.loop.Resume(e.suspended.tok, cmd)
}

// EndEvaluation is called after a top-level evaluation finishes. One-shot
// commands are reset; Pause, Abort and StepInto carry over to the next one.
func (e *Engine) EndEvaluation() {
	if !e.command.persistsAcrossEvaluations() {
		e.command = Continue
		e.targets = nil
	}
}

// Reset clears the pending command.
func (e *Engine) Reset() {
	e.pauseRequested.Store(false)
	e.command = Continue
	e.targets = nil
	e.runTo = Position{}
}

// OnStep is called by the interpreter before each statement.
func (e *Engine) OnStep(sp StepPoint) StepResult {
	if e.muted > 0 {
		return StepResult{}
	}
	if e.pauseRequested.Swap(false) {
		e.command = Pause
	}
	if e.command == Abort {
		e.Reset()
		return StepResult{Abort: true}
	}

	reason, stop := e.commandStops(sp)
	if bp, hit := e.checkBreakpoint(sp); hit && bp.Suspend {
		reason, stop = ReasonBreakpoint, true
	}
	if !stop {
		return StepResult{}
	}
	return e.suspend(sp, reason)
}

func (e *Engine) commandStops(sp StepPoint) (StopReason, bool) {
	switch e.command {
	case Pause:
		return ReasonPause, true
	case StepInto:
		return ReasonStep, true
	case StepIntoTargetCode:
		return ReasonStep, !e.IsGenerated(sp.Position())
	case StepOver, StepOut:
		return ReasonStep, e.targets.Contains(sp.Frame(), sp.Depth())
	case RunToPosition:
		return ReasonRunTo, sp.Position() == e.runTo
	}
	return "", false
}

// checkBreakpoint looks up the breakpoint at the step point, evaluates its
// condition and performs the hit actions.
func (e *Engine) checkBreakpoint(sp StepPoint) (Breakpoint, bool) {
	bp, ok := e.registry.At(sp.Position())
	if !ok || !bp.eligible() {
		return Breakpoint{}, false
	}

	if bp.Condition != "" {
		unmute := e.Mute()
		_, truthy, err := sp.Evaluate(bp.Condition)
		unmute()
		if err != nil {
			e.listener.Output(fmt.Sprintf("Error in condition of breakpoint %d at %s: %v\n", bp.ID, bp.Position, err))
			return Breakpoint{}, false
		}
		if !truthy {
			return Breakpoint{}, false
		}
	}

	bp, ok = e.registry.recordHit(bp.ID)
	if !ok {
		return Breakpoint{}, false
	}
	e.logger.Debug("breakpoint hit", "id", bp.ID, "position", bp.Position.String(), "suspend", bp.Suspend)
	e.listener.BreakpointHit(bp)

	if bp.HitMessage {
		e.listener.Output(fmt.Sprintf("Breakpoint %d hit at %s\n", bp.ID, bp.Position))
	}
	if bp.EvaluateAndLog != "" {
		unmute := e.Mute()
		value, _, err := sp.Evaluate(bp.EvaluateAndLog)
		unmute()
		if err != nil {
			e.listener.Output(fmt.Sprintf("%s: error: %v\n", bp.EvaluateAndLog, err))
		} else {
			e.listener.Output(fmt.Sprintf("%s = %s\n", bp.EvaluateAndLog, value))
		}
	}
	if bp.PrintStack {
		e.listener.Output(FormatStack(sp.Stack()))
	}
	return bp, true
}

// suspend stops the script at sp by running the event loop until a command
// resumes it.
func (e *Engine) suspend(sp StepPoint, reason StopReason) StepResult {
	s := &suspension{
		tok:   e.loop.NewToken(),
		point: sp,
		stack: sp.Stack(),
	}
	e.command = Continue
	e.targets = nil

	prevSuspended := e.suspended
	e.suspended = s
	prevState := e.state.Set(scheduler.StateDebugPrompt)
	unmute := e.Mute()

	e.logger.Debug("suspended", "reason", string(reason), "position", sp.Position().String(), "depth", sp.Depth())
	e.listener.Suspended(reason, sp.Position(), s.stack)

	_, err := e.loop.RunToken(s.tok)

	unmute()
	e.suspended = prevSuspended
	e.state.Set(prevState)
	if err != nil {
		e.logger.Debug("suspension ended without resume", "error", err)
		e.Reset()
		return StepResult{Abort: true}
	}

	if e.command == Abort {
		e.Reset()
		return StepResult{Abort: true}
	}
	e.listener.Resumed()
	return StepResult{}
}
