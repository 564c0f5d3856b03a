package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type turnKind int

const (
	turnGreeting turnKind = iota
	turnNameCapture
	turnGeneral
)

const (
	apologyReply  = "Sorry, I'm having trouble processing your request."
	repromptReply = "I didn't catch your name. Could you tell me your name, please?"

	greetingPrompt = "Greet the caller warmly and ask for their name."

	nameExtractionPrompt = "Extract the person's name from their message. " +
		"Reply with only the name. If no name is present, reply with exactly: unknown"
)

// runTurn processes one conversational turn in a worker goroutine: generate
// the reply, synthesize it, hand the audio to the transmitter, and advance
// the interaction counter. Always reports completion back to the event loop.
func (s *Session) runTurn(kind turnKind, transcript string) {
	defer s.wg.Done()

	start := time.Now()
	failed := false

	defer func() {
		s.post(event{kind: evTurnDone, turnFailed: failed, turnDuration: time.Since(start)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()

	reply := s.composeReply(ctx, kind, transcript, &failed)

	audioBuf := s.synthesizeReply(ctx, reply, &failed)

	turn := s.LiveInteraction()
	if len(audioBuf) > 0 {
		if !s.transmitter.Transmit(audioBuf, turn, fmt.Sprintf("turn-%d", turn)) {
			s.deps.Metrics.RecordTransmissionAbandoned()
		}
	}

	// The counter advances whether or not the audio made it out: the turn
	// was processed either way, and stale transmissions must stay stale.
	s.interaction.Add(1)

	s.logger.Debug("Turn complete",
		slog.String("call_id", s.CallID),
		slog.Uint64("turn", turn),
		slog.Bool("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
}

// composeReply produces the reply text for a turn, falling back to canned
// responses when generation fails
func (s *Session) composeReply(ctx context.Context, kind turnKind, transcript string, failed *bool) string {
	switch kind {
	case turnGreeting:
		reply, err := s.generate(ctx, s.persona(), greetingPrompt)
		if err != nil {
			*failed = true
			s.logger.Warn("Greeting generation failed, using configured fallback",
				slog.String("call_id", s.CallID),
				slog.String("error", err.Error()),
			)
			return s.cfg.Greeting
		}
		return reply

	case turnNameCapture:
		name, err := s.extractName(ctx, transcript)
		if err != nil {
			*failed = true
			s.logger.Warn("Name extraction failed",
				slog.String("call_id", s.CallID),
				slog.String("error", err.Error()),
			)
			return apologyReply
		}

		if name == "" {
			return repromptReply
		}

		s.setCallerName(name)
		s.saveLead(ctx, name)

		return fmt.Sprintf("Nice to meet you, %s! How can I help you today?", name)

	default:
		reply, err := s.generate(ctx, s.persona(), transcript)
		if err != nil {
			*failed = true
			s.logger.Warn("Reply generation failed",
				slog.String("call_id", s.CallID),
				slog.String("error", err.Error()),
			)
			return apologyReply
		}
		return reply
	}
}

// generate wraps the generator call with metrics
func (s *Session) generate(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	reply, err := s.deps.Generator.Generate(ctx, system, user)
	s.deps.Metrics.RecordGeneration(err != nil, time.Since(start).Seconds())
	return reply, err
}

// extractName asks the generator to pull a name out of the transcript.
// An empty return with nil error means no name was present.
func (s *Session) extractName(ctx context.Context, transcript string) (string, error) {
	reply, err := s.generate(ctx, nameExtractionPrompt, transcript)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(reply)
	if name == "" || strings.EqualFold(name, "unknown") {
		return "", nil
	}

	return name, nil
}

// saveLead persists the captured caller exactly once per session
func (s *Session) saveLead(ctx context.Context, name string) {
	if s.leadAttempted {
		return
	}
	s.leadAttempted = true

	if !s.deps.Leads.Enabled() {
		return
	}

	if s.CallerPhone == "" {
		s.logger.Warn("Caller name captured but no phone number to key the lead",
			slog.String("call_id", s.CallID),
			slog.String("name", name),
		)
		return
	}

	err := s.deps.Leads.Upsert(ctx, s.CallerPhone, name)
	s.deps.Metrics.RecordLeadUpsert(err != nil)
	if err != nil {
		s.logger.Error("Failed to save lead",
			slog.String("call_id", s.CallID),
			slog.String("phone", s.CallerPhone),
			slog.String("error", err.Error()),
		)
	}
}

// synthesizeReply converts reply text to audio, substituting a synthesized
// apology when the first synthesis fails. Returns nil when no audio could be
// produced at all; the turn still completes and the counter still advances.
func (s *Session) synthesizeReply(ctx context.Context, reply string, failed *bool) []byte {
	start := time.Now()
	audioBuf, err := s.deps.Synthesizer.Synthesize(ctx, reply)
	s.deps.Metrics.RecordSynthesis(err != nil, time.Since(start).Seconds())
	if err == nil {
		return audioBuf
	}

	*failed = true
	s.logger.Warn("Synthesis failed",
		slog.String("call_id", s.CallID),
		slog.String("error", err.Error()),
	)

	if reply == apologyReply {
		return nil
	}

	start = time.Now()
	audioBuf, err = s.deps.Synthesizer.Synthesize(ctx, apologyReply)
	s.deps.Metrics.RecordSynthesis(err != nil, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("Apology synthesis failed, turn produces no audio",
			slog.String("call_id", s.CallID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return audioBuf
}

// persona composes the generation system prompt, including the caller's name
// once it is known
func (s *Session) persona() string {
	p := s.cfg.Persona
	if name := s.getCallerName(); name != "" {
		p += " The caller's name is " + name + "."
	}
	return p
}
