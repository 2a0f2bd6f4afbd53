package events

import "time"

// Kind identifies the variant of an Event.
type Kind string

// Event kinds.
const (
	KindBusy            Kind = "busy"
	KindPrompt          Kind = "prompt"
	KindDebugPrompt     Kind = "debug-prompt"
	KindBreakpointHit   Kind = "breakpoint-hit"
	KindOutput          Kind = "output"
	KindReadLine        Kind = "read-line"
	KindSubprocessInput Kind = "subprocess-input"
	KindException       Kind = "exception"
	KindTermination     Kind = "termination"
	KindSourceChanged   Kind = "source-changed"
)

// Stream names for output events.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Event is a tagged variant. Exactly one payload field matching Kind is set;
// busy and prompt carry no payload.
type Event struct {
	Kind Kind      `json:"kind"`
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	Output        *Output        `json:"output,omitempty"`
	DebugPrompt   *DebugPrompt   `json:"debugPrompt,omitempty"`
	BreakpointHit *BreakpointHit `json:"breakpointHit,omitempty"`
	Input         *InputRequest  `json:"input,omitempty"`
	Exception     *Exception     `json:"exception,omitempty"`
	Termination   *Termination   `json:"termination,omitempty"`
	SourceChanged *SourceChanged `json:"sourceChanged,omitempty"`
}

// Frame is one call-stack entry as seen by the client.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
	Depth    int    `json:"depth"`
}

// Output is console text.
type Output struct {
	Stream string `json:"stream"`
	Text   string `json:"text"`
}

// DebugPrompt reports that the debugger suspended the script.
type DebugPrompt struct {
	Reason string  `json:"reason"`
	File   string  `json:"file"`
	Line   int     `json:"line"`
	Stack  []Frame `json:"stack"`
}

// BreakpointHit reports a breakpoint whose condition held.
type BreakpointHit struct {
	ID      int    `json:"id"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Suspend bool   `json:"suspend"`
}

// InputRequest reports that the script waits for a console line or that a
// child process accepts input.
type InputRequest struct {
	Prompt  string `json:"prompt,omitempty"`
	Command string `json:"command,omitempty"`
}

// Exception is a script-level error recovered at the call boundary.
type Exception struct {
	Message  string `json:"message"`
	CallSite string `json:"callSite,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

// Termination reports that the host is shutting down.
type Termination struct {
	Reason string `json:"reason,omitempty"`
}

// SourceChanged reports that a file previously run by the host changed on disk.
type SourceChanged struct {
	File string `json:"file"`
	Op   string `json:"op"`
}

// IsControl reports whether the event must never be dropped.
func (e Event) IsControl() bool {
	return e.Kind != KindOutput
}

// Busy returns a busy event.
func Busy() Event {
	return Event{Kind: KindBusy}
}

// Prompt returns a prompt event.
func Prompt() Event {
	return Event{Kind: KindPrompt}
}

// NewOutput returns an output event on stream.
func NewOutput(stream, text string) Event {
	return Event{Kind: KindOutput, Output: &Output{Stream: stream, Text: text}}
}

// NewDebugPrompt returns a debug-prompt event.
func NewDebugPrompt(reason, file string, line int, stack []Frame) Event {
	return Event{Kind: KindDebugPrompt, DebugPrompt: &DebugPrompt{
		Reason: reason,
		File:   file,
		Line:   line,
		Stack:  stack,
	}}
}

// NewBreakpointHit returns a breakpoint-hit event.
func NewBreakpointHit(id int, file string, line int, suspend bool) Event {
	return Event{Kind: KindBreakpointHit, BreakpointHit: &BreakpointHit{
		ID:      id,
		File:    file,
		Line:    line,
		Suspend: suspend,
	}}
}

// NewReadLine returns a read-line request event.
func NewReadLine(prompt string) Event {
	return Event{Kind: KindReadLine, Input: &InputRequest{Prompt: prompt}}
}

// NewSubprocessInput returns a subprocess-input event for command.
func NewSubprocessInput(command string) Event {
	return Event{Kind: KindSubprocessInput, Input: &InputRequest{Command: command}}
}

// NewException returns an exception event.
func NewException(message, callSite, cause string) Event {
	return Event{Kind: KindException, Exception: &Exception{
		Message:  message,
		CallSite: callSite,
		Cause:    cause,
	}}
}

// NewTermination returns a termination event.
func NewTermination(reason string) Event {
	return Event{Kind: KindTermination, Termination: &Termination{Reason: reason}}
}

// NewSourceChanged returns a source-changed event.
func NewSourceChanged(file, op string) Event {
	return Event{Kind: KindSourceChanged, SourceChanged: &SourceChanged{File: file, Op: op}}
}
