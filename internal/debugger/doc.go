// Package debugger implements breakpoints and stepping for scripts running on
// the scheduler's event loop.
//
// The interpreter calls Engine.OnStep at every step point (one evaluated
// statement). The engine consults the single pending Command and the
// breakpoint Registry; when either asks for a stop it captures the call
// stack, switches the execution state to debug-prompt and suspends by running
// the event loop recursively. A later client command, delivered as a loop
// task, resolves that nested run and the script continues.
//
// # Commands
//
//   - Continue: never stop on account of the command
//   - Pause, StepInto: stop at the next step point
//   - StepIntoTargetCode: stop at the next step point that is not generated code
//   - StepOver: stop in the current frame or any caller
//   - StepOut: stop in any caller of the current frame
//   - RunToPosition: stop at the requested position
//   - Abort: cancel the running evaluation at the next step point
//
// # Breakpoints
//
// Breakpoints are addressed by ID and by (file, line). A breakpoint may have a
// master: it is only eligible after the master has been hit. Breakpoints can
// be conditional, log an expression, print a hit message or the stack, and
// remove themselves after the first hit.
package debugger
