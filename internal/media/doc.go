// Package media implements the media channel's JSON message protocol and the
// websocket channel wrapper. It handles start/media/stop/mark message parsing,
// base64 audio payload decoding, and serialized outbound writes with a ping
// keepalive.
package media
