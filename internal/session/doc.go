// Package session wires the event loop, command gateway, debugger and Lua
// runtime into one host session and exposes the client operations.
//
// A Session owns a single interpreter goroutine running the event loop.
// Client operations may be called from any goroutine: code submission goes
// through the gateway, debugger commands and frame evaluation are posted to
// the loop, and pausing or interrupting works even while a script holds the
// loop.
//
// # Interrupts
//
// Interrupt acts on the current execution state:
//
//	busy              cancel the running evaluation
//	read-line         abort the pending read, then cancel
//	subprocess-input  kill the child, then cancel
//	child-process     kill the child, then cancel
//	debug-prompt      abort the suspended script
//	prompt            ignored
//
// Everything the client needs to observe arrives on the async event channel
// (NextAsyncEvent).
package session
