package scheduler

import "sync/atomic"

// ExecutionState describes what the interpreter goroutine is doing.
type ExecutionState int32

const (
	// StatePrompt means the interpreter is idle, waiting for code.
	StatePrompt ExecutionState = iota
	// StateBusy means code is being evaluated.
	StateBusy
	// StateReadLine means a script is waiting for a console line.
	StateReadLine
	// StateDebugPrompt means the debugger has suspended the script.
	StateDebugPrompt
	// StateSubprocessInput means a child process is running and accepts input.
	StateSubprocessInput
	// StateChildProcess means a child process is running without input.
	StateChildProcess
)

// String returns a string representation of the state.
func (s ExecutionState) String() string {
	switch s {
	case StatePrompt:
		return "prompt"
	case StateBusy:
		return "busy"
	case StateReadLine:
		return "read-line"
	case StateDebugPrompt:
		return "debug-prompt"
	case StateSubprocessInput:
		return "subprocess-input"
	case StateChildProcess:
		return "child-process"
	default:
		return "unknown"
	}
}

// AwaitsInput reports whether the state is blocked on client input.
func (s ExecutionState) AwaitsInput() bool {
	switch s {
	case StateReadLine, StateDebugPrompt, StateSubprocessInput, StateChildProcess:
		return true
	default:
		return false
	}
}

// StateRegister holds the current ExecutionState.
//
// Writes happen only on the loop goroutine, so no lock is needed for them.
// Reads from other goroutines are hints and may be stale.
type StateRegister struct {
	v        atomic.Int32
	onChange func(old, new ExecutionState)
}

// NewStateRegister returns a register in StatePrompt. onChange, if non-nil,
// is called on the loop goroutine after every change.
func NewStateRegister(onChange func(old, new ExecutionState)) *StateRegister {
	return &StateRegister{onChange: onChange}
}

// Get returns the current state.
func (r *StateRegister) Get() ExecutionState {
	return ExecutionState(r.v.Load())
}

// Is reports whether the current state equals s.
func (r *StateRegister) Is(s ExecutionState) bool {
	return r.Get() == s
}

// Set stores s and returns the previous state.
func (r *StateRegister) Set(s ExecutionState) ExecutionState {
	old := ExecutionState(r.v.Swap(int32(s)))
	if old != s && r.onChange != nil {
		r.onChange(old, s)
	}
	return old
}
