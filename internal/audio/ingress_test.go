package audio

import (
	"bytes"
	"fmt"
	"testing"
)

func TestIngressAppendAndDrainOrder(t *testing.T) {
	buf := NewIngressBuffer(1024)

	frames := [][]byte{{1, 1}, {2, 2}, {3, 3}}
	for _, f := range frames {
		if !buf.Append(f) {
			t.Fatal("Append() returned false before drain")
		}
	}

	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
	if buf.Bytes() != 6 {
		t.Errorf("Bytes() = %d, want 6", buf.Bytes())
	}

	var drained [][]byte
	sent, err := buf.Drain(func(f []byte) error {
		drained = append(drained, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if sent != 3 {
		t.Errorf("Drain() sent = %d, want 3", sent)
	}

	for i, f := range frames {
		if !bytes.Equal(drained[i], f) {
			t.Errorf("Frame %d = %v, want %v", i, drained[i], f)
		}
	}
}

func TestIngressAppendCopiesFrame(t *testing.T) {
	buf := NewIngressBuffer(1024)

	frame := []byte{1, 2, 3}
	buf.Append(frame)
	frame[0] = 99

	_, err := buf.Drain(func(f []byte) error {
		if f[0] != 1 {
			t.Errorf("Buffered frame mutated: got %v", f)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
}

func TestIngressDropsOldestPastCeiling(t *testing.T) {
	buf := NewIngressBuffer(10)

	for i := 0; i < 5; i++ {
		buf.Append([]byte{byte(i), byte(i), byte(i), byte(i)}) // 4 bytes each
	}

	if buf.Bytes() > 10 {
		t.Errorf("Bytes() = %d, want <= 10", buf.Bytes())
	}

	var first []byte
	_, err := buf.Drain(func(f []byte) error {
		if first == nil {
			first = f
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	// Oldest frames were dropped, so the first remaining one is a later frame.
	if first[0] < 3 {
		t.Errorf("First drained frame = %v, expected frames 0..2 to be dropped", first)
	}

	if buf.GetStats().Dropped == 0 {
		t.Error("Expected dropped count > 0")
	}
}

func TestIngressDrainOnlyOnce(t *testing.T) {
	buf := NewIngressBuffer(1024)
	buf.Append([]byte{1})

	if _, err := buf.Drain(func(f []byte) error { return nil }); err != nil {
		t.Fatalf("First Drain() failed: %v", err)
	}

	if _, err := buf.Drain(func(f []byte) error { return nil }); err == nil {
		t.Error("Expected error from second Drain()")
	}

	if buf.Append([]byte{2}) {
		t.Error("Append() after drain should return false")
	}
}

func TestIngressDrainSendFailure(t *testing.T) {
	buf := NewIngressBuffer(1024)
	buf.Append([]byte{1})
	buf.Append([]byte{2})
	buf.Append([]byte{3})

	sent, err := buf.Drain(func(f []byte) error {
		if f[0] == 2 {
			return fmt.Errorf("connection gone")
		}
		return nil
	})
	if err == nil {
		t.Fatal("Expected error from Drain()")
	}
	if sent != 1 {
		t.Errorf("Drain() sent = %d, want 1", sent)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() after failed drain = %d, want 0", buf.Len())
	}
}
