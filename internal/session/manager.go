package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-session-service/internal/audio"
	"github.com/skypro1111/voice-session-service/internal/config"
	"github.com/skypro1111/voice-session-service/internal/media"
)

const cleanupInterval = 30 * time.Second

const defaultTurnTimeout = 60 * time.Second

// Manager owns the set of live sessions: creation on call start, lookup for
// the monitoring API, inactivity reaping, and orderly shutdown.
type Manager struct {
	config *config.Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by call ID
	created  uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// ManagerStats represents manager statistics for monitoring
type ManagerStats struct {
	ActiveSessions int    `json:"active_sessions"`
	TotalCreated   uint64 `json:"total_created"`
}

// NewManager creates a session manager and starts its cleanup loop
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	m := &Manager{
		config:   cfg,
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// StartSession creates and starts a session for a newly started call.
// A duplicate start for a call already in flight returns the existing
// session.
func (m *Manager) StartSession(callID, streamSid string, params map[string]string, ch MediaChannel) (*Session, error) {
	if callID == "" {
		return nil, fmt.Errorf("call ID cannot be empty")
	}

	m.mu.Lock()
	if existing, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		m.logger.Warn("Duplicate start for call already in flight",
			slog.String("call_id", callID),
		)
		return existing, nil
	}

	if len(m.sessions) >= m.config.Server.MaxConcurrentSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("session limit reached (%d)", m.config.Server.MaxConcurrentSessions)
	}
	m.mu.Unlock()

	phone := params[media.ParamCallerPhoneNumber]
	if phone == "" {
		m.logger.Warn("Call started without caller phone number, lead capture disabled",
			slog.String("call_id", callID),
		)
	}

	// The stream identifier doubles as the session ID.
	sessionID := streamSid
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	recognizer, err := m.deps.NewRecognizer(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:                sessionID,
		CallID:            callID,
		StreamSid:         streamSid,
		CallerPhone:       phone,
		cfg:               m.config.Session,
		deps:              m.deps,
		manager:           m,
		channel:           ch,
		recognizer:        recognizer,
		ingress:           audio.NewIngressBuffer(m.config.Media.IngressMaxBytes),
		logger:            m.deps.Logger,
		keepaliveInterval: m.config.Media.GetKeepaliveInterval(),
		turnTimeout:       defaultTurnTimeout,
		events:            make(chan event, 256),
		done:              make(chan struct{}),
		createdAt:         now,
		lastActivity:      now,
	}
	s.transmitter = m.deps.NewTransmitter(ch, s.LiveInteraction)

	m.mu.Lock()
	if existing, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		recognizer.Close()
		return existing, nil
	}
	m.sessions[callID] = s
	m.created++
	active := len(m.sessions)
	m.mu.Unlock()

	m.deps.Metrics.RecordSessionCreated()
	m.deps.Metrics.SetActiveSessions(active)

	m.logger.Info("Session started",
		slog.String("session_id", sessionID),
		slog.String("call_id", callID),
		slog.String("stream_sid", streamSid),
		slog.Int("active_sessions", active),
	)

	s.start()

	return s, nil
}

// removeSession drops a finished session from the registry
func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	current, ok := m.sessions[s.CallID]
	if ok && current == s {
		delete(m.sessions, s.CallID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok || current != s {
		return
	}

	duration := time.Since(s.createdAt)
	m.deps.Metrics.RecordSessionDestroyed(duration.Seconds())
	m.deps.Metrics.SetActiveSessions(active)

	m.logger.Info("Session ended",
		slog.String("session_id", s.ID),
		slog.String("call_id", s.CallID),
		slog.Duration("duration", duration),
		slog.Int("active_sessions", active),
	)
}

// GetSession returns a snapshot of one session by session ID or call ID
func (m *Manager) GetSession(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.ID == id || s.CallID == id {
			return s.GetInfo(), true
		}
	}

	return Info{}, false
}

// GetSessions returns snapshots of all live sessions
func (m *Manager) GetSessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.GetInfo())
	}

	return infos
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		ActiveSessions: len(m.sessions),
		TotalCreated:   m.created,
	}
}

// Stop ends all sessions and waits for them to wind down
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		s.Stop()
	}
	for _, s := range list {
		s.wait()
	}

	m.wg.Wait()

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_ended", len(list)),
	)
}

// cleanupLoop reaps sessions that have gone silent past the inactivity
// timeout
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapInactive()
		}
	}
}

func (m *Manager) reapInactive() {
	timeout := m.config.Session.GetSessionTimeout()

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		s.mu.Lock()
		idle := time.Since(s.lastActivity)
		s.mu.Unlock()
		if idle > timeout {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.logger.Warn("Reaping inactive session",
			slog.String("session_id", s.ID),
			slog.String("call_id", s.CallID),
			slog.Duration("timeout", timeout),
		)
		s.Stop()
	}
}
