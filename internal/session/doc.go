// Package session implements the per-call voice interaction pipeline and the
// manager that owns all live calls.
//
// Each session runs a single event-loop goroutine that owns the
// conversational state: the ingress buffer hand-off, transcript debouncing,
// single-flight turn dispatch, and the interaction counter that stamps every
// turn. Media frames, recognition events, debounce expirations, and turn
// completions all arrive as messages on the session's event channel, so no
// conversational state ever needs a lock. Turns themselves (generation,
// synthesis, transmission hand-off) run in worker goroutines and report back
// as events.
package session
