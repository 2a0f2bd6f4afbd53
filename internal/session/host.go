package session

import (
	"context"
	"time"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/interp"
	"github.com/dshills/luahost/internal/scheduler"
)

// aborted resolves a pending read or child process that was interrupted.
type aborted struct{}

// lineRequest is a pending console read.
type lineRequest struct {
	tok *scheduler.Token
}

// host is the runtime's view of the session. All methods run on the loop
// goroutine.
type host struct {
	s *Session
}

var _ interp.Host = (*host)(nil)

// quietPoint suppresses console output while the debugger evaluates
// conditions and log expressions.
type quietPoint struct {
	debugger.StepPoint
	s *Session
}

func (p quietPoint) Evaluate(expr string) (string, bool, error) {
	p.s.quiet++
	defer func() { p.s.quiet-- }()
	return p.StepPoint.Evaluate(expr)
}

func (h *host) OnStep(sp debugger.StepPoint) debugger.StepResult {
	return h.s.engine.OnStep(quietPoint{StepPoint: sp, s: h.s})
}

func (h *host) Output(stream, text string) {
	h.s.output(stream, text)
}

// ReadLine emits a read-line event and runs the loop until SendLine or an
// interrupt resolves the read.
func (h *host) ReadLine(prompt string) (string, bool) {
	s := h.s
	if s.quiet > 0 {
		return "", false
	}

	req := &lineRequest{tok: s.loop.NewToken()}
	s.reads = append(s.reads, req)
	prev := s.state.Set(scheduler.StateReadLine)
	s.events.Emit(events.NewReadLine(prompt))

	v, err := s.loop.RunToken(req.tok)

	s.reads = s.reads[:len(s.reads)-1]
	s.state.Set(prev)
	if err != nil {
		s.logger.Debug("read aborted", "error", err)
		return "", false
	}
	line, ok := v.(string)
	return line, ok
}

func (h *host) RunCommand(command string, input bool) (int, error) {
	return h.s.runCommand(command, input)
}

// After schedules cb on the immediate lane once delay has elapsed.
func (h *host) After(delay time.Duration, cb interp.Callback) {
	s := h.s
	if s.closed.Load() {
		return
	}

	var t *time.Timer
	s.timerMu.Lock()
	t = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, t)
		s.timerMu.Unlock()
		_ = s.loop.Submit(scheduler.Task{Immediate: true, Fn: func() { s.fireTimer(cb) }})
	})
	s.timers[t] = struct{}{}
	s.timerMu.Unlock()
}

func (s *Session) stopTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
}

// fireTimer runs cb now if the interpreter is idle and defers it to the next
// prompt otherwise.
func (s *Session) fireTimer(cb interp.Callback) {
	if !s.state.Is(scheduler.StatePrompt) || s.rt.Depth() > 0 {
		s.deferred = append(s.deferred, cb)
		return
	}
	s.runBackground(cb)
}

func (s *Session) drainDeferred() {
	for len(s.deferred) > 0 && s.state.Is(scheduler.StatePrompt) && s.rt.Depth() == 0 {
		cb := s.deferred[0]
		s.deferred = s.deferred[1:]
		s.runBackground(cb)
	}
}

// runBackground runs a timer callback as a top-level evaluation that
// Interrupt can cancel.
func (s *Session) runBackground(cb interp.Callback) {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgMu.Lock()
	s.bgCancel = cancel
	s.bgMu.Unlock()
	defer func() {
		s.bgMu.Lock()
		s.bgCancel = nil
		s.bgMu.Unlock()
		cancel()
	}()

	_, _ = s.evaluateTop(ctx, func(ctx context.Context) (interp.Result, error) {
		return cb(ctx)
	})
}

// output emits console text unless a silent evaluation is in progress.
func (s *Session) output(stream, text string) {
	if text == "" || s.quiet > 0 || s.loop.OutputSuppressed() {
		return
	}
	for len(text) > events.MaxOutputChunk {
		s.events.Emit(events.NewOutput(stream, text[:events.MaxOutputChunk]))
		text = text[events.MaxOutputChunk:]
	}
	s.events.Emit(events.NewOutput(stream, text))
}

// listener forwards debugger notifications as events.
type listener struct {
	s *Session
}

var _ debugger.Listener = (*listener)(nil)

func (l *listener) Suspended(reason debugger.StopReason, pos debugger.Position, stack []debugger.StackFrame) {
	frames := make([]events.Frame, len(stack))
	for i, f := range stack {
		frames[i] = events.Frame{
			File:     f.Position.File,
			Line:     f.Position.Line,
			Function: f.Function,
			Depth:    f.Depth,
		}
	}
	l.s.events.Emit(events.NewDebugPrompt(string(reason), pos.File, pos.Line, frames))
}

func (l *listener) Resumed() {
	l.s.logger.Debug("debugger resumed", "command", l.s.engine.Command().String())
}

func (l *listener) BreakpointHit(bp debugger.Breakpoint) {
	l.s.events.Emit(events.NewBreakpointHit(bp.ID, bp.Position.File, bp.Position.Line, bp.Suspend))
}

func (l *listener) Output(text string) {
	l.s.events.Emit(events.NewOutput(events.StreamStdout, text))
}
