package debugger

import (
	"fmt"
	"strings"
)

// Position is a location in a script.
type Position struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// IsValid reports whether the position names a file and a positive line.
func (p Position) IsValid() bool {
	return p.File != "" && p.Line > 0
}

// String returns "file:line".
func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// FrameRef identifies the function owning a stack frame.
type FrameRef struct {
	Source  string
	Defined int
}

// StackFrame is a read-only snapshot of one call-stack entry.
type StackFrame struct {
	Position Position
	Frame    FrameRef
	Function string
	// Depth is 1 for the outermost frame.
	Depth int
}

// FormatLocation returns a formatted location like "fn at main.lua:42".
func (f StackFrame) FormatLocation() string {
	name := f.Function
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("%s at %s", name, f.Position)
}

// FormatStack renders a stack, innermost frame first.
func FormatStack(stack []StackFrame) string {
	var b strings.Builder
	for i, f := range stack {
		fmt.Fprintf(&b, "#%d %s\n", i, f.FormatLocation())
	}
	return b.String()
}

// StopTarget is a (frame, depth) pair at which stepping may stop.
type StopTarget struct {
	Frame FrameRef
	Depth int
}

// StopTargets is the set of places a StepOver or StepOut may stop.
type StopTargets map[StopTarget]struct{}

// NewStopTargets builds targets from a stack ordered innermost first. When
// skipInnermost is set the innermost frame is excluded.
func NewStopTargets(stack []StackFrame, skipInnermost bool) StopTargets {
	targets := make(StopTargets, len(stack))
	for i, f := range stack {
		if i == 0 && skipInnermost {
			continue
		}
		targets[StopTarget{Frame: f.Frame, Depth: f.Depth}] = struct{}{}
	}
	return targets
}

// Contains reports whether (frame, depth) is a target.
func (t StopTargets) Contains(frame FrameRef, depth int) bool {
	_, ok := t[StopTarget{Frame: frame, Depth: depth}]
	return ok
}
