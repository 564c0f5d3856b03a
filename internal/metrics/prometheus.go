package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice session service
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Media channel metrics
	FramesReceived  prometheus.Counter
	FramesSent      prometheus.Counter
	FramesBuffered  prometheus.Counter
	FramesDropped   prometheus.Counter
	MediaParseErrors prometheus.Counter

	// Transcript metrics
	TranscriptsFinal       prometheus.Counter
	TranscriptsDispatched  prometheus.Counter
	TranscriptsDebounced   prometheus.Counter
	TranscriptsOverwritten prometheus.Counter

	// Turn metrics
	TurnsProcessed         prometheus.Counter
	TurnsFailed            prometheus.Counter
	TurnDuration           prometheus.Histogram
	TransmissionsAbandoned prometheus.Counter

	// Recognition connection metrics
	RecognitionReconnects prometheus.Counter
	RecognitionFailures   prometheus.Counter

	// Upstream service metrics
	GenerationRequests prometheus.Counter
	GenerationFailures prometheus.Counter
	GenerationDuration prometheus.Histogram
	SynthesisRequests  prometheus.Counter
	SynthesisFailures  prometheus.Counter
	SynthesisDuration  prometheus.Histogram

	// Lead store metrics
	LeadUpserts       prometheus.Counter
	LeadUpsertFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Current number of active call sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_created_total",
			Help: "Total number of call sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_destroyed_total",
			Help: "Total number of call sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Media channel metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_media_frames_received_total",
			Help: "Total number of inbound media frames received",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_media_frames_sent_total",
			Help: "Total number of outbound media frames sent",
		}),
		FramesBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_media_frames_buffered_total",
			Help: "Total number of inbound frames held in the ingress buffer",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_media_frames_dropped_total",
			Help: "Total number of inbound frames dropped (buffer ceiling or dead connection)",
		}),
		MediaParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_media_parse_errors_total",
			Help: "Total number of unparseable media channel messages",
		}),

		// Transcript metrics
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcripts_final_total",
			Help: "Total number of final transcript fragments received",
		}),
		TranscriptsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcripts_dispatched_total",
			Help: "Total number of transcripts dispatched to the turn processor",
		}),
		TranscriptsDebounced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcripts_debounced_total",
			Help: "Total number of transcripts held for the debounce window",
		}),
		TranscriptsOverwritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcripts_overwritten_total",
			Help: "Total number of pending transcripts overwritten by newer arrivals",
		}),

		// Turn metrics
		TurnsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_turns_processed_total",
			Help: "Total number of conversational turns processed",
		}),
		TurnsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_turns_failed_total",
			Help: "Total number of turns that fell back to the apology reply",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_turn_duration_seconds",
			Help:    "Wall time of a turn from dispatch to hand-off",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TransmissionsAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transmissions_abandoned_total",
			Help: "Total number of audio transmissions abandoned (superseded or channel closed)",
		}),

		// Recognition connection metrics
		RecognitionReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_recognition_reconnects_total",
			Help: "Total number of recognition connection reinitializations",
		}),
		RecognitionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_recognition_failures_total",
			Help: "Total number of recognition connection errors",
		}),

		// Upstream service metrics
		GenerationRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_generation_requests_total",
			Help: "Total number of text generation requests sent",
		}),
		GenerationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_generation_failures_total",
			Help: "Total number of failed text generation requests",
		}),
		GenerationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_generation_duration_seconds",
			Help:    "Duration of text generation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		SynthesisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_synthesis_requests_total",
			Help: "Total number of speech synthesis requests sent",
		}),
		SynthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_synthesis_failures_total",
			Help: "Total number of failed speech synthesis requests",
		}),
		SynthesisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_synthesis_duration_seconds",
			Help:    "Duration of speech synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		// Lead store metrics
		LeadUpserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_lead_upserts_total",
			Help: "Total number of lead records upserted",
		}),
		LeadUpsertFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_lead_upsert_failures_total",
			Help: "Total number of failed lead upserts",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the session counters
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordFrameReceived increments the inbound frame counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameSent increments the outbound frame counter
func (m *Metrics) RecordFrameSent() {
	m.FramesSent.Inc()
}

// RecordFrameBuffered increments the ingress-buffered frame counter
func (m *Metrics) RecordFrameBuffered() {
	m.FramesBuffered.Inc()
}

// RecordFrameDropped increments the dropped frame counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordMediaParseError increments the parse error counter
func (m *Metrics) RecordMediaParseError() {
	m.MediaParseErrors.Inc()
}

// RecordTranscript records a final transcript and how it was routed
func (m *Metrics) RecordTranscript(debounced bool) {
	m.TranscriptsFinal.Inc()
	if debounced {
		m.TranscriptsDebounced.Inc()
	}
}

// RecordTranscriptDispatched increments the dispatched counter
func (m *Metrics) RecordTranscriptDispatched() {
	m.TranscriptsDispatched.Inc()
}

// RecordTranscriptOverwritten increments the overwritten counter
func (m *Metrics) RecordTranscriptOverwritten() {
	m.TranscriptsOverwritten.Inc()
}

// RecordTurn records a completed turn
func (m *Metrics) RecordTurn(failed bool, durationSeconds float64) {
	m.TurnsProcessed.Inc()
	if failed {
		m.TurnsFailed.Inc()
	}
	m.TurnDuration.Observe(durationSeconds)
}

// RecordTransmissionAbandoned increments the abandoned transmission counter
func (m *Metrics) RecordTransmissionAbandoned() {
	m.TransmissionsAbandoned.Inc()
}

// RecordRecognitionReconnect increments the reconnect counter
func (m *Metrics) RecordRecognitionReconnect() {
	m.RecognitionReconnects.Inc()
}

// RecordRecognitionFailure increments the recognition failure counter
func (m *Metrics) RecordRecognitionFailure() {
	m.RecognitionFailures.Inc()
}

// RecordGeneration records a text generation request outcome
func (m *Metrics) RecordGeneration(failed bool, durationSeconds float64) {
	m.GenerationRequests.Inc()
	if failed {
		m.GenerationFailures.Inc()
	}
	m.GenerationDuration.Observe(durationSeconds)
}

// RecordSynthesis records a speech synthesis request outcome
func (m *Metrics) RecordSynthesis(failed bool, durationSeconds float64) {
	m.SynthesisRequests.Inc()
	if failed {
		m.SynthesisFailures.Inc()
	}
	m.SynthesisDuration.Observe(durationSeconds)
}

// RecordLeadUpsert records a lead upsert outcome
func (m *Metrics) RecordLeadUpsert(failed bool) {
	if failed {
		m.LeadUpsertFailures.Inc()
		return
	}
	m.LeadUpserts.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
