package media

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Channel wraps one media websocket connection with serialized writes.
// All outbound traffic for a call goes through its Channel; a closed channel
// turns every send into a cheap error the caller treats as an abandon point.
type Channel struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	streamSid string
	open      bool
}

// NewChannel wraps an accepted websocket connection
func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{
		conn: conn,
		open: true,
	}
}

// SetStreamSid records the stream identifier once the start event arrives
func (c *Channel) SetStreamSid(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamSid = sid
}

// StreamSid returns the stream identifier
func (c *Channel) StreamSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSid
}

// IsOpen reports whether the channel is still usable for sending
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// SendMedia transmits one audio frame as a media message
func (c *Channel) SendMedia(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return fmt.Errorf("channel closed")
	}

	msg := NewMediaMessage(c.streamSid, frame)
	return c.writeJSON(msg)
}

// SendMark transmits an end-of-turn mark message
func (c *Channel) SendMark(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return fmt.Errorf("channel closed")
	}

	msg := NewMarkMessage(c.streamSid, name)
	return c.writeJSON(msg)
}

// Keepalive sends a websocket ping control frame
func (c *Channel) Keepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return fmt.Errorf("channel closed")
	}

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// MarkClosed flags the channel as unusable without touching the underlying
// connection (used when the read loop observes a close/error)
func (c *Channel) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// Close marks the channel closed and closes the underlying connection
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.open = false

	return c.conn.Close()
}

// writeJSON marshals and writes one message; callers hold c.mu
func (c *Channel) writeJSON(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal channel message: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// A failed write means the peer is gone; poison further sends.
		c.open = false
		return fmt.Errorf("failed to write channel message: %w", err)
	}

	return nil
}
