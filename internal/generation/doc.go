// Package generation provides the client for the text generation service.
// The client is stateless and shared across sessions; each call carries the
// full system and user prompt for one conversational turn.
package generation
