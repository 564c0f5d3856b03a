package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-session-service/internal/metrics"
)

// Sink is the outbound side of a media channel as the scheduler sees it
type Sink interface {
	SendMedia(frame []byte) error
	SendMark(name string) error
	IsOpen() bool
}

// Scheduler paces a synthesized audio buffer onto the media channel as
// fixed-size frames at real-time cadence. One scheduler serves one session;
// at most one transmission is active at a time, and starting a new one
// abandons whatever remains of the previous turn so frames from different
// turns never interleave.
type Scheduler struct {
	sink      Sink
	frameSize int
	interval  time.Duration
	live      func() uint64
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	active *transmission
	wg     sync.WaitGroup

	framesSent       uint64
	turnsTransmitted uint64
	turnsAbandoned   uint64
}

// transmission is one paced turn in flight. cancel aborts it; stopped closes
// when its pace goroutine has fully exited.
type transmission struct {
	cancel  chan struct{}
	stopped chan struct{}
}

// SchedulerStats represents scheduler statistics for monitoring
type SchedulerStats struct {
	FramesSent       uint64 `json:"frames_sent"`
	TurnsTransmitted uint64 `json:"turns_transmitted"`
	TurnsAbandoned   uint64 `json:"turns_abandoned"`
}

// NewScheduler creates a frame scheduler for one session. live must return
// the session's current interaction counter; it is consulted once per
// transmission as the admission check.
func NewScheduler(sink Sink, frameSize int, interval time.Duration, live func() uint64, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sink:      sink,
		frameSize: frameSize,
		interval:  interval,
		live:      live,
		metrics:   m,
		logger:    logger,
	}
}

// Transmit starts paced transmission of buf for the given turn. The
// admission check (turn still current, channel still open) runs synchronously
// before the caller's interaction counter may advance; pacing then continues
// in the background. Returns false if the transmission was not admitted.
func (s *Scheduler) Transmit(buf []byte, turn uint64, mark string) bool {
	if len(buf) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Supersede any still-pacing previous turn.
	prev := s.active
	if prev != nil {
		close(prev.cancel)
		s.active = nil
	}

	if !s.sink.IsOpen() || s.live() != turn {
		s.turnsAbandoned++
		s.logger.Debug("Transmission abandoned before first frame",
			slog.Uint64("turn", turn),
			slog.Uint64("live_turn", s.live()),
			slog.Bool("channel_open", s.sink.IsOpen()),
		)
		return false
	}

	tx := &transmission{
		cancel:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.active = tx

	s.wg.Add(1)
	go func() {
		// The superseded turn must be fully off the wire before the new
		// turn's first frame, so frames never interleave.
		if prev != nil {
			<-prev.stopped
		}
		s.pace(buf, turn, mark, tx)
	}()

	return true
}

// Stop abandons any active transmission and waits for it to wind down
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.active != nil {
		close(s.active.cancel)
		s.active = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		FramesSent:       s.framesSent,
		TurnsTransmitted: s.turnsTransmitted,
		TurnsAbandoned:   s.turnsAbandoned,
	}
}

// pace sends buf frame by frame at one frame per interval, then emits the
// end-of-turn mark. Runs until done, cancellation, or channel loss.
func (s *Scheduler) pace(buf []byte, turn uint64, mark string, tx *transmission) {
	defer s.wg.Done()
	defer close(tx.stopped)
	defer s.clearActive(tx)

	// Cancellation may have arrived while this turn was still waiting for
	// its predecessor to wind down.
	select {
	case <-tx.cancel:
		s.recordAbandon(turn, 0)
		return
	default:
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sent := 0
	for off := 0; off < len(buf); off += s.frameSize {
		if off > 0 {
			select {
			case <-tx.cancel:
				s.recordAbandon(turn, sent)
				return
			case <-ticker.C:
			}
		}

		if !s.sink.IsOpen() {
			s.recordAbandon(turn, sent)
			return
		}

		end := off + s.frameSize
		if end > len(buf) {
			end = len(buf)
		}

		if err := s.sink.SendMedia(buf[off:end]); err != nil {
			s.logger.Warn("Failed to send audio frame",
				slog.Uint64("turn", turn),
				slog.Int("frame_index", sent),
				slog.String("error", err.Error()),
			)
			s.recordAbandon(turn, sent)
			return
		}

		sent++
		s.mu.Lock()
		s.framesSent++
		s.mu.Unlock()
		s.metrics.RecordFrameSent()
	}

	select {
	case <-tx.cancel:
		s.recordAbandon(turn, sent)
		return
	default:
	}

	if err := s.sink.SendMark(mark); err != nil {
		s.logger.Warn("Failed to send end-of-turn mark",
			slog.Uint64("turn", turn),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.turnsTransmitted++
	s.mu.Unlock()

	s.logger.Debug("Turn transmission complete",
		slog.Uint64("turn", turn),
		slog.Int("frames", sent),
		slog.String("mark", mark),
	)
}

// clearActive resets the active slot if it still belongs to this transmission
func (s *Scheduler) clearActive(tx *transmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == tx {
		s.active = nil
	}
}

func (s *Scheduler) recordAbandon(turn uint64, framesSent int) {
	s.mu.Lock()
	s.turnsAbandoned++
	s.mu.Unlock()

	s.logger.Debug("Transmission abandoned mid-turn",
		slog.Uint64("turn", turn),
		slog.Int("frames_sent", framesSent),
	)
}
