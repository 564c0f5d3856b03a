// Package recognition maintains the streaming speech-recognition connection
// for a session. A Supervisor owns the websocket lifecycle: dialing with the
// session's audio parameters, an open-deadline watchdog, reconnection with
// bounded backoff, and end-of-stream finalization. Transcripts and connection
// state changes are surfaced as events on a channel.
package recognition
