package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State represents the recognition connection lifecycle state
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateError
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventType identifies a recognition connection event
type EventType int

const (
	// EventOpen signals the connection reached the Open state
	EventOpen EventType = iota
	// EventTranscript carries one final transcript fragment
	EventTranscript
	// EventUtteranceEnd signals recognizer-detected end of speech by silence
	EventUtteranceEnd
	// EventError carries a connection-level error
	EventError
	// EventClosed signals the connection is terminally closed
	EventClosed
)

// Event is one asynchronous occurrence on the recognition connection.
// Transcript events are only emitted for final fragments; interim hypotheses
// drive the recognizer's own endpointing and are discarded here.
type Event struct {
	Type        EventType
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Err         error
}

// ErrNotOpen is returned by SendAudio when the connection is not in the Open
// state. Audio offered while reconnecting is dropped, not retried.
var ErrNotOpen = errors.New("recognition connection not open")

// Config contains recognition connection configuration
type Config struct {
	URL            string
	APIKey         string
	Model          string
	Language       string
	Encoding       string
	SampleRate     int
	UtteranceEndMs int
	OpenTimeout    time.Duration
	MaxReconnects  int
}

// Supervisor owns the lifecycle of one streaming recognition connection:
// open, watchdog, reconnect-on-failure with bounded backoff, finalize.
// It emits Events on a channel consumed by the session's event loop.
type Supervisor struct {
	config    Config
	logger    *slog.Logger
	sessionID string

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	connectGen   uint64 // invalidates watchdog/retry timers of superseded attempts
	attempts     int
	retryPending bool
	finalized    bool
	closed       bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	transcriptsEmitted uint64
	reconnects         uint64
}

// Stats represents supervisor statistics for monitoring
type Stats struct {
	State              string `json:"state"`
	TranscriptsEmitted uint64 `json:"transcripts_emitted"`
	Reconnects         uint64 `json:"reconnects"`
}

// NewSupervisor creates a supervisor for one session's recognition stream
func NewSupervisor(config Config, sessionID string, logger *slog.Logger) (*Supervisor, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Encoding == "" {
		config.Encoding = "mulaw"
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 8000
	}

	if config.UtteranceEndMs <= 0 {
		config.UtteranceEndMs = 1000
	}

	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 5 * time.Second
	}

	if config.MaxReconnects < 0 {
		config.MaxReconnects = 0
	}

	return &Supervisor{
		config:    config,
		logger:    logger,
		sessionID: sessionID,
		state:     StateClosed,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}, nil
}

// Start begins opening the connection. Progress is reported via Events.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed || s.closed {
		return
	}

	s.beginConnect()
}

// Events returns the supervisor's event channel
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetStats returns current supervisor statistics
func (s *Supervisor) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		State:              s.state.String(),
		TranscriptsEmitted: s.transcriptsEmitted,
		Reconnects:         s.reconnects,
	}
}

// SendAudio forwards one chunk of raw channel audio to the recognizer.
// Audio sent while the connection is reinitializing is dropped by contract.
func (s *Supervisor) SendAudio(p []byte) error {
	s.mu.Lock()

	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return ErrNotOpen
	}

	conn := s.conn
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := conn.WriteMessage(websocket.BinaryMessage, p)
	if err == nil {
		s.mu.Unlock()
		return nil
	}

	s.state = StateError
	s.logger.Warn("Recognition send failed, reinitializing connection",
		slog.String("session_id", s.sessionID),
		slog.String("error", err.Error()),
	)
	s.scheduleRetry()
	s.mu.Unlock()

	conn.Close()

	return fmt.Errorf("failed to send audio: %w", err)
}

// Finalize signals end-of-audio so any trailing transcript is flushed.
// Best-effort: the call is already ending when this runs.
func (s *Supervisor) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalized = true

	if s.state != StateOpen || s.conn == nil {
		return nil
	}

	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to send close-stream: %w", err)
	}

	return nil
}

// Close tears the connection down. No further events are emitted afterwards.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.state = StateClosed
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		close(s.done)

		if conn != nil {
			conn.Close()
		}
	})

	s.wg.Wait()

	return nil
}

// beginConnect arms the open watchdog and dials in the background. Each
// attempt advances the generation so timers left over from earlier attempts
// cannot act on a later connection. Callers hold s.mu.
func (s *Supervisor) beginConnect() {
	s.state = StateOpening
	s.retryPending = false
	s.connectGen++
	gen := s.connectGen

	time.AfterFunc(s.config.OpenTimeout, func() { s.watchdog(gen) })

	go s.connect(gen)
}

// watchdog re-invokes connection construction if Open was not reached in time
func (s *Supervisor) watchdog(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.connectGen != gen || s.state == StateOpen || s.retryPending {
		return
	}

	s.logger.Warn("Recognition connection did not open in time",
		slog.String("session_id", s.sessionID),
		slog.Duration("open_timeout", s.config.OpenTimeout),
	)

	s.scheduleRetry()
}

// connect dials the recognition service and starts the read loop
func (s *Supervisor) connect(gen uint64) {
	u, err := s.buildURL()
	if err != nil {
		s.failConnect(gen, fmt.Errorf("failed to build recognition URL: %w", err))
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+s.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: s.config.OpenTimeout}
	conn, resp, err := dialer.Dial(u, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.failConnect(gen, fmt.Errorf("failed to dial recognition service: %w", err))
		return
	}

	s.mu.Lock()
	if s.closed || s.connectGen != gen {
		s.mu.Unlock()
		conn.Close()
		return
	}

	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.retryPending = false
	s.mu.Unlock()

	s.logger.Info("Recognition connection open",
		slog.String("session_id", s.sessionID),
	)

	s.emit(Event{Type: EventOpen})

	s.wg.Add(1)
	go s.readLoop(conn)
}

// buildURL assembles the live-stream URL with the session's audio parameters
func (s *Supervisor) buildURL() (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("encoding", s.config.Encoding)
	q.Set("sample_rate", strconv.Itoa(s.config.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", strconv.Itoa(s.config.UtteranceEndMs))
	q.Set("punctuate", "true")
	if s.config.Model != "" {
		q.Set("model", s.config.Model)
	}
	if s.config.Language != "" {
		q.Set("language", s.config.Language)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// serverMessage mirrors the recognizer's JSON event envelope
type serverMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// readLoop consumes server messages until the connection drops
func (s *Supervisor) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Unparseable recognition message",
				slog.String("session_id", s.sessionID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Type {
		case "Results":
			if !msg.IsFinal {
				continue // interim hypotheses are not this pipeline's business
			}

			text := ""
			if len(msg.Channel.Alternatives) > 0 {
				text = msg.Channel.Alternatives[0].Transcript
			}

			s.mu.Lock()
			s.transcriptsEmitted++
			s.mu.Unlock()

			s.emit(Event{
				Type:        EventTranscript,
				Text:        text,
				IsFinal:     true,
				SpeechFinal: msg.SpeechFinal,
			})

		case "UtteranceEnd":
			s.emit(Event{Type: EventUtteranceEnd})

		default:
			// Metadata, SpeechStarted and friends are ignored.
		}
	}
}

// handleReadError decides between orderly shutdown and reinitialization
func (s *Supervisor) handleReadError(conn *websocket.Conn, err error) {
	conn.Close()

	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil

	if s.finalized {
		s.state = StateClosed
		s.mu.Unlock()
		s.emit(Event{Type: EventClosed})
		return
	}

	s.state = StateError
	s.logger.Warn("Recognition connection lost",
		slog.String("session_id", s.sessionID),
		slog.String("error", err.Error()),
	)
	s.scheduleRetry()
	s.mu.Unlock()

	s.emit(Event{Type: EventError, Err: err})
}

// failConnect handles a dial failure. A failure from a superseded attempt
// is ignored; only the current generation may drive the retry machinery.
func (s *Supervisor) failConnect(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || s.connectGen != gen {
		s.mu.Unlock()
		return
	}

	s.state = StateError
	s.logger.Warn("Recognition connection attempt failed",
		slog.String("session_id", s.sessionID),
		slog.Int("attempt", s.attempts),
		slog.String("error", err.Error()),
	)
	s.scheduleRetry()
	s.mu.Unlock()

	s.emit(Event{Type: EventError, Err: err})
}

// scheduleRetry arranges the next connection attempt with bounded backoff,
// or gives up and emits EventClosed when attempts are exhausted.
// Callers hold s.mu.
func (s *Supervisor) scheduleRetry() {
	if s.retryPending || s.closed {
		return
	}

	s.attempts++
	s.reconnects++

	if s.attempts > s.config.MaxReconnects {
		s.state = StateClosed
		s.logger.Error("Recognition connection abandoned after repeated failures",
			slog.String("session_id", s.sessionID),
			slog.Int("attempts", s.attempts-1),
		)
		go s.emit(Event{Type: EventClosed})
		return
	}

	backoff := 500 * time.Millisecond << (s.attempts - 1)
	if backoff > 5*time.Second {
		backoff = 5 * time.Second
	}

	s.retryPending = true

	s.logger.Info("Scheduling recognition reconnect",
		slog.String("session_id", s.sessionID),
		slog.Int("attempt", s.attempts),
		slog.Duration("backoff", backoff),
	)

	gen := s.connectGen
	time.AfterFunc(backoff, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A retry scheduled while an attempt was still dialing must not
		// redial over the connection that attempt went on to open.
		if s.closed || s.connectGen != gen || s.state == StateOpen {
			return
		}
		s.beginConnect()
	})
}

// emit delivers an event unless the supervisor has been closed
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
