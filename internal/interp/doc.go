// Package interp embeds gopher-lua as the host's script interpreter.
//
// Code is parsed, instrumented and compiled rather than run with DoString:
// before every statement the instrumenter inserts a call to a hidden builtin
// that reports a step point to the Host. The Host (normally the debugger
// engine) may suspend there, inspect the stack through the StepPoint, or ask
// for the evaluation to be aborted.
//
// Interruption is cooperative. Every top-level evaluation installs its
// context on the LState, which checks it before each VM instruction; a
// cancelled evaluation returns a Result with Interrupted set.
//
// A Runtime is not goroutine-safe. All methods must be called on the event
// loop goroutine.
package interp
