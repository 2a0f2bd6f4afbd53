package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/interp"
	"github.com/dshills/luahost/internal/scheduler"
	"github.com/dshills/luahost/internal/session"
)

// dispatch maps a request onto a session operation.
func (s *Server) dispatch(ctx context.Context, req Message) (any, error) {
	sess := s.sess

	switch req.Op {
	case OpSubmit:
		p, err := decode[CodeRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		return evalResult(sess.SubmitCode(ctx, p.Code))

	case OpRunFile:
		p, err := decode[RunFileRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, fmt.Errorf("%w: path is required", ErrBadRequest)
		}
		return evalResult(sess.RunFile(ctx, p.Path))

	case OpEvaluate:
		p, err := decode[CodeRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		return evalResult(sess.Evaluate(ctx, p.Code))

	case OpSendLine:
		p, err := decode[LineRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		if err := sess.SendLine(ctx, p.Line); err != nil {
			return nil, err
		}
		return AcceptedResult{Accepted: true}, nil

	case OpInterrupt:
		return AcceptedResult{Accepted: sess.Interrupt()}, nil

	case OpDebug:
		p, err := decode[DebugRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		cmd, err := debugger.ParseCommand(p.Command)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		accepted, err := sess.SendDebugCommand(ctx, cmd, debugger.Position{File: p.File, Line: p.Line})
		if err != nil {
			return nil, err
		}
		return AcceptedResult{Accepted: accepted}, nil

	case OpBreakpointSet:
		p, err := decode[BreakpointRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		opts := debugger.DefaultOptions()
		if p.Options != nil {
			opts = *p.Options
		}
		bp, created, err := sess.AddOrModifyBreakpoint(p.ID, debugger.Position{File: p.File, Line: p.Line}, opts)
		if err != nil {
			return nil, err
		}
		return BreakpointResult{Breakpoint: bp, Created: created}, nil

	case OpBreakpointRemove:
		p, err := decode[BreakpointIDRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		return AcceptedResult{Accepted: sess.RemoveBreakpoint(p.ID)}, nil

	case OpBreakpointMaster:
		p, err := decode[MasterRequest](req.Payload)
		if err != nil {
			return nil, err
		}
		if err := sess.SetBreakpointMaster(p.ID, p.MasterID, p.LeaveEnabled); err != nil {
			return nil, err
		}
		return AcceptedResult{Accepted: true}, nil

	case OpBreakpointList:
		return sess.Breakpoints(), nil

	case OpState:
		return StateResult{State: sess.State().String(), Busy: sess.IsBusy()}, nil
	}

	return nil, fmt.Errorf("%w %q", ErrUnknownOp, req.Op)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return v, nil
}

func evalResult(res interp.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	values := res.Values
	if values == nil {
		values = []string{}
	}
	return EvalResult{Values: values, Interrupted: res.Interrupted}, nil
}

// errPayload classifies err for the client.
func errPayload(err error) *ErrPayload {
	var se *interp.ScriptError
	switch {
	case errors.As(err, &se):
		return &ErrPayload{Code: CodeScriptError, Message: se.Message, CallSite: se.CallSite}
	case errors.Is(err, scheduler.ErrCallInProgress):
		return &ErrPayload{Code: CodeBusy, Message: err.Error()}
	case errors.Is(err, session.ErrClosed), errors.Is(err, scheduler.ErrLoopClosed):
		return &ErrPayload{Code: CodeClosed, Message: err.Error()}
	case errors.Is(err, ErrUnknownOp):
		return &ErrPayload{Code: CodeUnknownOp, Message: err.Error()}
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrNotAwaitingInput),
		errors.Is(err, debugger.ErrInvalidBreakpoint),
		errors.Is(err, debugger.ErrBreakpointNotFound),
		errors.Is(err, debugger.ErrMasterCycle):
		return &ErrPayload{Code: CodeBadRequest, Message: err.Error()}
	}
	return &ErrPayload{Code: CodeInternal, Message: err.Error()}
}
