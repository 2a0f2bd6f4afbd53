package transport

import (
	"encoding/json"

	"github.com/dshills/luahost/internal/debugger"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Operations accepted from the client.
const (
	OpSubmit           = "submit"
	OpRunFile          = "run-file"
	OpEvaluate         = "evaluate"
	OpSendLine         = "send-line"
	OpInterrupt        = "interrupt"
	OpDebug            = "debug"
	OpBreakpointSet    = "breakpoint.set"
	OpBreakpointRemove = "breakpoint.remove"
	OpBreakpointMaster = "breakpoint.master"
	OpBreakpointList   = "breakpoint.list"
	OpState            = "state"
)

// Error codes carried in ErrPayload.
const (
	CodeBadRequest  = "bad_request"
	CodeUnknownOp   = "unknown_op"
	CodeScriptError = "script_error"
	CodeBusy        = "busy"
	CodeClosed      = "closed"
	CodeInternal    = "internal"
)

// Message is the envelope for requests, responses and events.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

// ErrPayload describes a failed request.
type ErrPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	CallSite string `json:"callSite,omitempty"`
}

// CodeRequest carries source for submit and evaluate.
type CodeRequest struct {
	Code string `json:"code"`
}

// RunFileRequest names a script to run.
type RunFileRequest struct {
	Path string `json:"path"`
}

// LineRequest carries one console line.
type LineRequest struct {
	Line string `json:"line"`
}

// DebugRequest carries a debugger command. File and Line are only used by
// run-to-position.
type DebugRequest struct {
	Command string `json:"command"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// BreakpointRequest creates or modifies a breakpoint. Nil options mean an
// enabled, suspending breakpoint.
type BreakpointRequest struct {
	ID      int               `json:"id"`
	File    string            `json:"file"`
	Line    int               `json:"line"`
	Options *debugger.Options `json:"options,omitempty"`
}

// BreakpointIDRequest names a breakpoint.
type BreakpointIDRequest struct {
	ID int `json:"id"`
}

// MasterRequest links a breakpoint to its master.
type MasterRequest struct {
	ID           int  `json:"id"`
	MasterID     int  `json:"masterId"`
	LeaveEnabled bool `json:"leaveEnabled"`
}

// EvalResult is the response to submit, run-file and evaluate.
type EvalResult struct {
	Values      []string `json:"values"`
	Interrupted bool     `json:"interrupted,omitempty"`
}

// BreakpointResult is the response to breakpoint.set.
type BreakpointResult struct {
	Breakpoint debugger.Breakpoint `json:"breakpoint"`
	Created    bool                `json:"created"`
}

// AcceptedResult reports whether a command took effect.
type AcceptedResult struct {
	Accepted bool `json:"accepted"`
}

// StateResult is the response to state.
type StateResult struct {
	State string `json:"state"`
	Busy  bool   `json:"busy"`
}

func mustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
