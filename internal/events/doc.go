// Package events carries state-change notifications from the interpreter
// host to the client.
//
// Events are produced by any component at any time and consumed once by the
// client through Channel.Next, independent of the blocking call protocol used
// for commands. Adjacent output events on the same stream are coalesced, and
// output is bounded: when the channel is full the oldest output event is
// dropped. Control events (busy, prompt, debug-prompt, ...) are never dropped.
package events
