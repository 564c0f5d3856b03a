package session

import (
	"testing"
	"time"

	"github.com/skypro1111/voice-session-service/internal/config"
)

func TestDuplicateStartReturnsExistingSession(t *testing.T) {
	h := newHarness(t, nil)

	first, err := h.mgr.StartSession("CA-dup", "MZ-1", nil, h.ch)
	if err != nil {
		t.Fatalf("First StartSession() failed: %v", err)
	}

	second, err := h.mgr.StartSession("CA-dup", "MZ-1", nil, h.ch)
	if err != nil {
		t.Fatalf("Second StartSession() failed: %v", err)
	}

	if first != second {
		t.Error("Duplicate start created a new session")
	}
	if h.mgr.GetStats().ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", h.mgr.GetStats().ActiveSessions)
	}
}

func TestStartSessionEnforcesLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Server.MaxConcurrentSessions = 1
	})

	if _, err := h.mgr.StartSession("CA-1", "MZ-1", nil, h.ch); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	if _, err := h.mgr.StartSession("CA-2", "MZ-2", nil, &fakeChannel{}); err == nil {
		t.Error("Expected error past the session limit")
	}
}

func TestStartSessionRequiresCallID(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.mgr.StartSession("", "MZ-1", nil, h.ch); err == nil {
		t.Error("Expected error for empty call ID")
	}
}

func TestGetSessionByEitherID(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.startSession(t)

	if _, ok := h.mgr.GetSession(sess.CallID); !ok {
		t.Error("GetSession() by call ID failed")
	}
	if _, ok := h.mgr.GetSession(sess.ID); !ok {
		t.Error("GetSession() by session ID failed")
	}
	if _, ok := h.mgr.GetSession("nonexistent"); ok {
		t.Error("GetSession() found a nonexistent session")
	}

	infos := h.mgr.GetSessions()
	if len(infos) != 1 || infos[0].CallID != sess.CallID {
		t.Errorf("GetSessions() = %+v, want one entry for %s", infos, sess.CallID)
	}
}

func TestManagerStopEndsSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.startSession(t)

	done := make(chan struct{})
	go func() {
		h.mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Manager.Stop() did not finish")
	}

	if got := h.mgr.GetStats().ActiveSessions; got != 0 {
		t.Errorf("ActiveSessions after stop = %d, want 0", got)
	}
}
