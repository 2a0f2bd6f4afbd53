// Package scheduler runs every interpreter operation on a single goroutine.
//
// The interpreter embedded by luahost is not goroutine-safe, yet client
// requests arrive concurrently. The scheduler provides three pieces:
//
//   - EventLoop: the only goroutine allowed to touch the interpreter. It pulls
//     queued tasks and supports nested, re-entrant invocation of Run, which is
//     how the debugger suspends a running script.
//   - Gateway: the cross-goroutine call primitive. A caller submits a closure,
//     blocks until it completes and may cooperatively cancel it.
//   - StateRegister: the execution state that gates which operations are legal
//     and what an interrupt does.
//
// # Nesting
//
// Run blocks until a Break or Resume targets it. A task may call Run again;
// the inner Run drains tasks until its own token is resolved, then control
// returns to the task that invoked it:
//
//	tok := loop.NewToken()
//	state.Set(scheduler.StateReadLine)
//	line, err := loop.RunToken(tok)
//
//	// later, from another task:
//	loop.Resume(tok, "input")
//
// # Lanes
//
// Tasks submitted with Immediate set are drained before normal tasks. Both
// lanes are FIFO. Host callbacks (timers, subprocess output) use the
// immediate lane.
package scheduler
