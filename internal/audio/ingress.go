package audio

import (
	"fmt"
	"sync"
)

// IngressBuffer holds inbound audio frames that arrive before the recognition
// connection is ready. Frames are kept in arrival order and drained exactly
// once; after the drain the buffer refuses further use and the session
// forwards directly.
type IngressBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	bytes    int
	maxBytes int
	drained  bool
	dropped  uint64
}

// IngressStats represents buffer statistics for monitoring
type IngressStats struct {
	Frames  int    `json:"frames"`
	Bytes   int    `json:"bytes"`
	Dropped uint64 `json:"dropped"`
	Drained bool   `json:"drained"`
}

// NewIngressBuffer creates an ingress buffer with the given byte ceiling
func NewIngressBuffer(maxBytes int) *IngressBuffer {
	return &IngressBuffer{
		frames:   make([][]byte, 0, 64),
		maxBytes: maxBytes,
	}
}

// Append adds one frame to the buffer. Past the byte ceiling the oldest
// frames are dropped first. Returns false if the buffer was already drained.
func (b *IngressBuffer) Append(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return false
	}

	stored := make([]byte, len(frame))
	copy(stored, frame)
	b.frames = append(b.frames, stored)
	b.bytes += len(stored)

	for b.bytes > b.maxBytes && len(b.frames) > 0 {
		b.bytes -= len(b.frames[0])
		b.frames = b.frames[1:]
		b.dropped++
	}

	return true
}

// Drain forwards all buffered frames, in arrival order, through send and
// marks the buffer drained. Draining twice is an error.
func (b *IngressBuffer) Drain(send func(frame []byte) error) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return 0, fmt.Errorf("ingress buffer already drained")
	}
	b.drained = true

	sent := 0
	for _, frame := range b.frames {
		if err := send(frame); err != nil {
			b.frames = nil
			b.bytes = 0
			return sent, fmt.Errorf("failed to drain frame %d: %w", sent, err)
		}
		sent++
	}

	b.frames = nil
	b.bytes = 0

	return sent, nil
}

// Len returns the number of buffered frames
func (b *IngressBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Bytes returns the number of buffered bytes
func (b *IngressBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// GetStats returns current buffer statistics
func (b *IngressBuffer) GetStats() IngressStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return IngressStats{
		Frames:  len(b.frames),
		Bytes:   b.bytes,
		Dropped: b.dropped,
		Drained: b.drained,
	}
}
