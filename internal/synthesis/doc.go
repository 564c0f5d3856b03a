// Package synthesis provides the client for the speech synthesis service.
// Replies come back as raw audio bytes in the media channel's encoding.
package synthesis
