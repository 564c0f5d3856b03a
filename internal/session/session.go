package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voice-session-service/internal/audio"
	"github.com/skypro1111/voice-session-service/internal/config"
	"github.com/skypro1111/voice-session-service/internal/metrics"
	"github.com/skypro1111/voice-session-service/internal/recognition"
)

// MediaChannel is the session's view of the caller-facing websocket
type MediaChannel interface {
	SendMedia(frame []byte) error
	SendMark(name string) error
	Keepalive() error
	IsOpen() bool
	Close() error
}

// Recognizer is the session's view of the streaming recognition connection
type Recognizer interface {
	Start()
	SendAudio(p []byte) error
	Finalize() error
	Events() <-chan recognition.Event
	Close() error
}

// Transmitter paces synthesized audio back onto the media channel
type Transmitter interface {
	Transmit(buf []byte, turn uint64, mark string) bool
	Stop()
}

// TextGenerator produces one reply per conversational turn
type TextGenerator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// SpeechSynthesizer converts reply text to channel-ready audio
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// LeadStore persists captured caller information
type LeadStore interface {
	Upsert(ctx context.Context, phone, name string) error
	Enabled() bool
}

// Deps bundles the process-wide collaborators handed to every session.
// The per-session pieces (recognizer, transmitter) come from factories so
// tests can substitute fakes.
type Deps struct {
	NewRecognizer  func(sessionID string) (Recognizer, error)
	NewTransmitter func(ch MediaChannel, live func() uint64) Transmitter
	Generator      TextGenerator
	Synthesizer    SpeechSynthesizer
	Leads          LeadStore
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type eventKind int

const (
	evMedia eventKind = iota
	evRecognition
	evDebounce
	evTurnDone
	evStop
)

// event is one message into the session's event loop. All session state is
// owned by the loop goroutine; everything else talks to it through these.
type event struct {
	kind         eventKind
	frame        []byte
	rec          recognition.Event
	debounceGen  uint64
	turnFailed   bool
	turnDuration time.Duration
}

// Session is one live call: a media channel, a recognition connection, and
// the turn pipeline between them. A single event-loop goroutine owns all
// conversational state; turns run in worker goroutines and report back as
// events.
type Session struct {
	ID          string
	CallID      string
	StreamSid   string
	CallerPhone string

	cfg         config.SessionConfig
	deps        Deps
	manager     *Manager
	channel     MediaChannel
	recognizer  Recognizer
	transmitter Transmitter
	ingress     *audio.IngressBuffer
	logger      *slog.Logger

	keepaliveInterval time.Duration
	turnTimeout       time.Duration

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Loop-owned state. Touched only by the event-loop goroutine.
	recognizerOpen bool
	greeted        bool
	processing     bool
	pending        string
	hasPending     bool
	debounceGen    uint64
	debounceTimer  *time.Timer
	stopping       bool

	// Worker-owned state. Turns are single flight, so successive workers are
	// serialized through the event channel.
	leadAttempted bool

	interaction atomic.Uint64
	createdAt   time.Time

	mu           sync.Mutex
	callerName   string
	lastActivity time.Time
	framesIn     uint64
	transcripts  uint64
	turns        uint64
}

// Info is a point-in-time snapshot of a session for the monitoring API
type Info struct {
	ID             string             `json:"id"`
	CallID         string             `json:"call_id"`
	StreamSid      string             `json:"stream_sid"`
	CallerPhone    string             `json:"caller_phone,omitempty"`
	CallerName     string             `json:"caller_name,omitempty"`
	Interaction    uint64             `json:"interaction"`
	FramesReceived uint64             `json:"frames_received"`
	Transcripts    uint64             `json:"transcripts"`
	Turns          uint64             `json:"turns"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivity   time.Time          `json:"last_activity"`
	Ingress        audio.IngressStats `json:"ingress"`
}

// start launches the session's goroutines and begins opening recognition
func (s *Session) start() {
	s.wg.Add(3)
	go s.run()
	go s.pumpRecognition()
	go s.keepaliveLoop()

	s.recognizer.Start()
}

// PostMedia hands one decoded inbound audio frame to the session
func (s *Session) PostMedia(frame []byte) {
	s.post(event{kind: evMedia, frame: frame})
}

// Stop initiates orderly teardown. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		go s.post(event{kind: evStop})
	})
}

// LiveInteraction returns the current interaction counter
func (s *Session) LiveInteraction() uint64 {
	return s.interaction.Load()
}

// GetInfo returns a snapshot of the session
func (s *Session) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:             s.ID,
		CallID:         s.CallID,
		StreamSid:      s.StreamSid,
		CallerPhone:    s.CallerPhone,
		CallerName:     s.callerName,
		Interaction:    s.interaction.Load(),
		FramesReceived: s.framesIn,
		Transcripts:    s.transcripts,
		Turns:          s.turns,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		Ingress:        s.ingress.GetStats(),
	}
}

// wait blocks until all session goroutines have exited
func (s *Session) wait() {
	s.wg.Wait()
}

// post delivers an event to the loop unless the session is already torn down
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run is the session's event loop
func (s *Session) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			switch ev.kind {
			case evMedia:
				s.handleMedia(ev.frame)
			case evRecognition:
				s.handleRecognition(ev.rec)
			case evDebounce:
				s.handleDebounce(ev.debounceGen)
			case evTurnDone:
				s.handleTurnDone(ev)
			case evStop:
				s.teardown()
				return
			}
		}
	}
}

// handleMedia routes one inbound frame: straight to recognition once the
// connection has opened, into the ingress buffer before that. Frames that
// arrive while recognition is reinitializing are dropped, not queued.
func (s *Session) handleMedia(frame []byte) {
	s.touch()

	s.mu.Lock()
	s.framesIn++
	s.mu.Unlock()

	s.deps.Metrics.RecordFrameReceived()

	if s.recognizerOpen {
		if err := s.recognizer.SendAudio(frame); err != nil {
			s.deps.Metrics.RecordFrameDropped()
		}
		return
	}

	if s.ingress.Append(frame) {
		s.deps.Metrics.RecordFrameBuffered()
	} else {
		s.deps.Metrics.RecordFrameDropped()
	}
}

// handleRecognition processes one recognition connection event
func (s *Session) handleRecognition(ev recognition.Event) {
	switch ev.Type {
	case recognition.EventOpen:
		if !s.recognizerOpen {
			s.recognizerOpen = true
			sent, err := s.ingress.Drain(s.recognizer.SendAudio)
			if err != nil {
				s.logger.Warn("Failed to drain ingress buffer",
					slog.String("call_id", s.CallID),
					slog.Int("frames_sent", sent),
					slog.String("error", err.Error()),
				)
			} else if sent > 0 {
				s.logger.Debug("Ingress buffer drained",
					slog.String("call_id", s.CallID),
					slog.Int("frames", sent),
				)
			}
		} else {
			s.deps.Metrics.RecordRecognitionReconnect()
		}

		if !s.greeted {
			s.greeted = true
			s.startTurn(turnGreeting, "")
		}

	case recognition.EventTranscript:
		s.touch()

		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}

		s.mu.Lock()
		s.transcripts++
		s.mu.Unlock()

		s.deps.Metrics.RecordTranscript(!ev.SpeechFinal)

		s.setPending(text)
		if ev.SpeechFinal {
			s.cancelDebounce()
			s.flushPending()
		} else {
			s.restartDebounce()
		}

	case recognition.EventUtteranceEnd:
		s.cancelDebounce()
		s.flushPending()

	case recognition.EventError:
		s.deps.Metrics.RecordRecognitionFailure()

	case recognition.EventClosed:
		if !s.stopping {
			s.logger.Warn("Recognition connection gone, ending session",
				slog.String("call_id", s.CallID),
			)
			s.Stop()
		}
	}
}

// setPending stores a transcript in the one-slot pending position.
// The newest transcript always wins.
func (s *Session) setPending(text string) {
	if s.hasPending {
		s.deps.Metrics.RecordTranscriptOverwritten()
	}
	s.pending = text
	s.hasPending = true
}

// flushPending dispatches the pending transcript, if any
func (s *Session) flushPending() {
	if !s.hasPending {
		return
	}

	text := s.pending
	s.pending = ""
	s.hasPending = false

	s.dispatch(text)
}

// dispatch routes a transcript to the turn processor. Turns are single
// flight: if one is already running, the transcript parks in the pending
// slot and the freshest arrival wins.
func (s *Session) dispatch(text string) {
	if s.processing {
		s.setPending(text)
		return
	}

	s.deps.Metrics.RecordTranscriptDispatched()

	kind := turnGeneral
	if s.getCallerName() == "" {
		kind = turnNameCapture
	}

	s.startTurn(kind, text)
}

// startTurn launches a turn worker
func (s *Session) startTurn(kind turnKind, transcript string) {
	s.processing = true
	s.wg.Add(1)
	go s.runTurn(kind, transcript)
}

// handleDebounce fires the debounce window if it is still the current one
func (s *Session) handleDebounce(gen uint64) {
	if gen != s.debounceGen {
		return
	}
	s.flushPending()
}

// restartDebounce resets the debounce window for the pending transcript
func (s *Session) restartDebounce() {
	s.debounceGen++
	gen := s.debounceGen

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}

	s.debounceTimer = time.AfterFunc(s.cfg.GetDebounceDuration(), func() {
		s.post(event{kind: evDebounce, debounceGen: gen})
	})
}

// cancelDebounce invalidates any armed debounce window
func (s *Session) cancelDebounce() {
	s.debounceGen++
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

// handleTurnDone releases the single-flight slot and immediately drains a
// transcript that parked while the turn was running
func (s *Session) handleTurnDone(ev event) {
	s.processing = false

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()

	s.deps.Metrics.RecordTurn(ev.turnFailed, ev.turnDuration.Seconds())

	if s.hasPending && !s.stopping {
		s.cancelDebounce()
		s.flushPending()
	}
}

// teardown shuts the session down in order: finalize recognition, close the
// channel so no further transmission is admitted, stop the transmitter, then
// release everything blocked on the session.
func (s *Session) teardown() {
	s.stopping = true
	s.cancelDebounce()

	if err := s.recognizer.Finalize(); err != nil {
		s.logger.Debug("Recognition finalize failed",
			slog.String("call_id", s.CallID),
			slog.String("error", err.Error()),
		)
	}

	s.channel.Close()
	s.transmitter.Stop()
	s.recognizer.Close()

	close(s.done)

	s.manager.removeSession(s)
}

// pumpRecognition forwards recognition events into the event loop
func (s *Session) pumpRecognition() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.recognizer.Events():
			if !ok {
				return
			}
			s.post(event{kind: evRecognition, rec: ev})
		}
	}
}

// keepaliveLoop pings the media channel so idle stretches of the call do not
// look like a dead peer
func (s *Session) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.channel.Keepalive(); err != nil {
				s.logger.Debug("Keepalive failed",
					slog.String("call_id", s.CallID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// touch records activity for the inactivity reaper
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setCallerName(name string) {
	s.mu.Lock()
	s.callerName = name
	s.mu.Unlock()
}

func (s *Session) getCallerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callerName
}
