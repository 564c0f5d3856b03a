// Package audio handles the session's audio plumbing on both directions:
// the ingress buffer that holds inbound frames until the recognition
// connection is ready, and the frame scheduler that paces synthesized audio
// back onto the media channel at real-time cadence.
package audio
