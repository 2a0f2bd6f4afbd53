package debugger

import (
	"fmt"
	"strings"
)

// Command is the pending debugger command consulted at each step point.
type Command int

const (
	// Continue runs until a breakpoint.
	Continue Command = iota
	// StepOver stops at the next statement in the current frame or a caller.
	StepOver
	// StepInto stops at the next statement.
	StepInto
	// StepIntoTargetCode stops at the next statement that is not generated code.
	StepIntoTargetCode
	// StepOut stops at the next statement in a caller.
	StepOut
	// Pause stops at the next statement.
	Pause
	// Abort cancels the running evaluation.
	Abort
	// RunToPosition stops when execution reaches a given position.
	RunToPosition
)

var commandNames = map[Command]string{
	Continue:           "continue",
	StepOver:           "step-over",
	StepInto:           "step-into",
	StepIntoTargetCode: "step-into-target-code",
	StepOut:            "step-out",
	Pause:              "pause",
	Abort:              "abort",
	RunToPosition:      "run-to-position",
}

// String returns a string representation of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCommand parses a command name as produced by String.
func ParseCommand(s string) (Command, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for cmd, name := range commandNames {
		if name == s {
			return cmd, nil
		}
	}
	return Continue, fmt.Errorf("unknown debugger command %q", s)
}

// persistsAcrossEvaluations reports whether a command survives the end of a
// top-level evaluation.
func (c Command) persistsAcrossEvaluations() bool {
	switch c {
	case Pause, Abort, StepInto:
		return true
	default:
		return false
	}
}

// StopReason explains why the engine suspended.
type StopReason string

// Stop reasons.
const (
	ReasonBreakpoint StopReason = "breakpoint"
	ReasonStep       StopReason = "step"
	ReasonPause      StopReason = "pause"
	ReasonRunTo      StopReason = "run-to-position"
)
