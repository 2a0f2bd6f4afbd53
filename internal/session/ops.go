package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/interp"
	"github.com/dshills/luahost/internal/scheduler"
)

// evalChunk names every chunk compiled by Evaluate. Evaluated snippets are
// never breakpoint targets, so they share one name.
const evalChunk = "<eval>"

// SubmitCode runs code as a console chunk and waits for it to finish.
// Script errors are emitted as exception events and also returned.
func (s *Session) SubmitCode(ctx context.Context, code string) (interp.Result, error) {
	return s.call(ctx, func(ctx context.Context) (interp.Result, error) {
		s.chunkSeq++
		return s.rt.Evaluate(ctx, fmt.Sprintf("<console-%d>", s.chunkSeq), code)
	})
}

// RunFile runs the script at path. When watching is enabled the file is
// watched for changes afterwards.
func (s *Session) RunFile(ctx context.Context, path string) (interp.Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return interp.Result{}, err
	}
	res, err := s.call(ctx, func(ctx context.Context) (interp.Result, error) {
		return s.rt.EvaluateFile(ctx, abs)
	})
	if s.watcher != nil && !s.closed.Load() {
		if werr := s.watcher.Watch(abs); werr != nil {
			s.logger.Debug("not watching source", "file", abs, "error", werr)
		}
	}
	return res, err
}

// Evaluate evaluates expr. At a debug prompt it runs in the scope of the
// suspended frame; otherwise it is evaluated like submitted code.
func (s *Session) Evaluate(ctx context.Context, expr string) (interp.Result, error) {
	if s.state.Is(scheduler.StateDebugPrompt) {
		res, handled, err := s.evaluateInFrame(ctx, expr)
		if handled || err != nil {
			return res, err
		}
	}
	return s.call(ctx, func(ctx context.Context) (interp.Result, error) {
		s.rt.RegisterSynthetic(evalChunk)
		return s.rt.EvaluateExpression(ctx, evalChunk, expr)
	})
}

func (s *Session) evaluateInFrame(ctx context.Context, expr string) (res interp.Result, handled bool, err error) {
	err = s.loop.Do(ctx, func() error {
		sp, ok := s.engine.SuspendedPoint()
		if !ok {
			return nil
		}
		handled = true
		if q, ok := sp.(quietPoint); ok {
			sp = q.StepPoint
		}

		unmute := s.engine.Mute()
		defer unmute()
		value, _, evalErr := sp.Evaluate(expr)
		if evalErr != nil {
			s.reportError(evalErr)
			return evalErr
		}
		res = interp.Result{Values: []string{value}}
		return nil
	})
	return res, handled, err
}

// call runs fn as a top-level evaluation through the gateway.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context) (interp.Result, error)) (interp.Result, error) {
	if s.closed.Load() {
		return interp.Result{}, ErrClosed
	}
	v, err := s.gateway.Call(ctx, func(ctx context.Context) (any, error) {
		if s.rt.Depth() > 0 {
			return interp.Result{}, scheduler.ErrCallInProgress
		}
		return s.evaluateTop(ctx, fn)
	})
	res, _ := v.(interp.Result)
	return res, err
}

// evaluateTop brackets a top-level evaluation with the busy and prompt
// states. It runs on the loop goroutine.
func (s *Session) evaluateTop(ctx context.Context, fn func(ctx context.Context) (interp.Result, error)) (interp.Result, error) {
	s.state.Set(scheduler.StateBusy)
	defer func() {
		s.engine.EndEvaluation()
		s.state.Set(scheduler.StatePrompt)
	}()

	res, err := fn(ctx)
	if err != nil {
		s.reportError(err)
	}
	if res.Interrupted {
		s.logger.Debug("evaluation interrupted")
	}
	return res, err
}

// reportError emits err as an exception event.
func (s *Session) reportError(err error) {
	var se *interp.ScriptError
	if errors.As(err, &se) {
		s.events.Emit(events.NewException(se.Message, se.CallSite, se.Cause))
		return
	}
	s.events.Emit(events.NewException(err.Error(), "", "host"))
}

// SendLine delivers a console line to a pending read or a child process
// accepting input.
func (s *Session) SendLine(ctx context.Context, line string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	switch s.state.Get() {
	case scheduler.StateReadLine, scheduler.StateSubprocessInput:
	default:
		return ErrNotAwaitingInput
	}
	return s.loop.Do(ctx, func() error {
		switch s.state.Get() {
		case scheduler.StateReadLine:
			if n := len(s.reads); n > 0 {
				s.loop.Resume(s.reads[n-1].tok, line)
				return nil
			}
		case scheduler.StateSubprocessInput:
			if n := len(s.children); n > 0 {
				return s.children[n-1].writeLine(line)
			}
		}
		return ErrNotAwaitingInput
	})
}

// Interrupt stops whatever the interpreter is doing. It reports whether an
// interrupt was issued.
func (s *Session) Interrupt() bool {
	st := s.state.Get()
	switch st {
	case scheduler.StateBusy:
		if s.gateway.InterruptRunning() {
			return true
		}
		return s.cancelBackground()

	case scheduler.StateReadLine, scheduler.StateSubprocessInput, scheduler.StateChildProcess:
		return s.submitGuarded(st, func() {
			s.abortInput()
			if !s.gateway.InterruptRunning() {
				s.cancelBackground()
			}
		})

	case scheduler.StateDebugPrompt:
		return s.submitGuarded(st, func() {
			s.engine.HandleCommand(debugger.Abort, debugger.Position{})
		})
	}
	return false
}

// unblockRunning is the gateway's interrupt hook. Cancelling the call's
// context only stops a script that executes Lua; one blocked in a read, a
// child process or a debug prompt is released here. The state is checked
// when the task runs, so a script that starts waiting after the interrupt
// is released as soon as its nested run drains the lane.
func (s *Session) unblockRunning() {
	_ = s.loop.Submit(scheduler.Task{Immediate: true, Fn: func() {
		switch s.state.Get() {
		case scheduler.StateReadLine, scheduler.StateSubprocessInput, scheduler.StateChildProcess:
			s.abortInput()
		case scheduler.StateDebugPrompt:
			s.engine.HandleCommand(debugger.Abort, debugger.Position{})
		}
	}})
}

// submitGuarded runs fn on the immediate lane if the state is still st when
// the task starts.
func (s *Session) submitGuarded(st scheduler.ExecutionState, fn func()) bool {
	err := s.loop.Submit(scheduler.Task{Immediate: true, Fn: func() {
		if !s.state.Is(st) {
			s.logger.Debug("interrupt skipped, state changed", "expected", st.String(), "state", s.state.Get().String())
			return
		}
		fn()
	}})
	return err == nil
}

// abortInput ends the innermost pending read or child process.
func (s *Session) abortInput() {
	switch s.state.Get() {
	case scheduler.StateReadLine:
		if n := len(s.reads); n > 0 {
			s.loop.Resume(s.reads[n-1].tok, aborted{})
		}
	case scheduler.StateSubprocessInput, scheduler.StateChildProcess:
		if n := len(s.children); n > 0 {
			c := s.children[n-1]
			c.kill()
			s.loop.Resume(c.tok, aborted{})
		}
	}
}

func (s *Session) cancelBackground() bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.bgCancel == nil {
		return false
	}
	s.bgCancel()
	return true
}

// AddOrModifyBreakpoint creates or updates breakpoint id at pos.
func (s *Session) AddOrModifyBreakpoint(id int, pos debugger.Position, opts debugger.Options) (debugger.Breakpoint, bool, error) {
	pos.File = normalizeSource(pos.File)
	bp, created, err := s.registry.AddOrModify(id, pos, opts)
	if err != nil {
		return debugger.Breakpoint{}, false, err
	}
	s.persistBreakpoints()
	return bp, created, nil
}

// RemoveBreakpoint deletes breakpoint id.
func (s *Session) RemoveBreakpoint(id int) bool {
	if !s.registry.Remove(id) {
		return false
	}
	s.persistBreakpoints()
	return true
}

// SetBreakpointMaster makes masterID the master of id. A masterID of zero
// unlinks id.
func (s *Session) SetBreakpointMaster(id, masterID int, leaveEnabled bool) error {
	if err := s.registry.SetMaster(id, masterID, leaveEnabled); err != nil {
		return err
	}
	s.persistBreakpoints()
	return nil
}

// Breakpoints returns all breakpoints ordered by ID.
func (s *Session) Breakpoints() []debugger.Breakpoint {
	return s.registry.All()
}

func (s *Session) persistBreakpoints() {
	if s.opts.BreakpointsFile == "" {
		return
	}
	if err := s.registry.Save(); err != nil {
		s.logger.Warn("saving breakpoints", "file", s.opts.BreakpointsFile, "error", err)
	}
}

// normalizeSource makes file paths absolute so they match the chunk names
// RunFile uses. Chunk names such as "<console-1>" are kept.
func normalizeSource(file string) string {
	if file == "" || strings.HasPrefix(file, "<") {
		return file
	}
	if abs, err := filepath.Abs(file); err == nil {
		return abs
	}
	return file
}

// SendDebugCommand applies a debugger command. Pause and Abort take effect
// while a script runs; the other commands only at a debug prompt. It reports
// whether the command was accepted.
func (s *Session) SendDebugCommand(ctx context.Context, cmd debugger.Command, target debugger.Position) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	st := s.state.Get()
	switch {
	case cmd == debugger.Pause:
		return s.engine.RequestPause(), nil
	case cmd == debugger.Abort && st == scheduler.StateBusy:
		return s.Interrupt(), nil
	case cmd == debugger.Abort && st != scheduler.StateDebugPrompt:
		return false, nil
	case st != scheduler.StateDebugPrompt:
		s.logger.Debug("debugger command ignored", "command", cmd.String(), "state", st.String())
		return false, nil
	}

	target.File = normalizeSource(target.File)
	var accepted bool
	err := s.loop.Do(ctx, func() error {
		accepted = s.engine.HandleCommand(cmd, target)
		return nil
	})
	return accepted, err
}
