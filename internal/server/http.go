package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-session-service/internal/config"
	"github.com/skypro1111/voice-session-service/internal/metrics"
	"github.com/skypro1111/voice-session-service/internal/session"
)

// HTTPServer provides the monitoring and management API
type HTTPServer struct {
	config    *config.Config
	manager   *session.Manager
	wsServer  *WSServer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startTime time.Time

	statsMu  sync.Mutex
	statsFns map[string]func() interface{}
}

// NewHTTPServer creates the monitoring API server
func NewHTTPServer(cfg *config.Config, manager *session.Manager, wsServer *WSServer, m *metrics.Metrics, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		config:    cfg,
		manager:   manager,
		wsServer:  wsServer,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
		statsFns:  make(map[string]func() interface{}),
	}
}

// RegisterStats adds a named statistics source surfaced on /health
func (h *HTTPServer) RegisterStats(name string, fn func() interface{}) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.statsFns[name] = fn
}

// Start begins serving the API. Blocks until the server stops.
func (h *HTTPServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))

	addr := fmt.Sprintf("%s:%d", h.config.HTTP.Address, h.config.HTTP.Port)
	h.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.logger.Info("HTTP API server listening",
		slog.String("address", addr),
	)

	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully shuts the API server down
func (h *HTTPServer) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps a handler with request metrics
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(rw, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rw.statusCode), time.Since(start).Seconds())
		if rw.statusCode >= 400 {
			h.metrics.RecordHTTPError(r.Method, endpoint, http.StatusText(rw.statusCode))
		}
	}
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.manager.GetStats()

	upstreams := make(map[string]interface{})
	h.statsMu.Lock()
	for name, fn := range h.statsFns {
		upstreams[name] = fn()
	}
	h.statsMu.Unlock()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"uptime_seconds":  int(time.Since(h.startTime).Seconds()),
		"active_sessions": stats.ActiveSessions,
		"total_sessions":  stats.TotalCreated,
		"upstreams":       upstreams,
	})
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.GetSessions()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
		"server":   h.wsServer.GetStatistics(),
	})
}

func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "session ID required", http.StatusBadRequest)
		return
	}

	info, ok := h.manager.GetSession(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.redactedConfig())
}

// redactedConfig exposes the running configuration with secrets masked
func (h *HTTPServer) redactedConfig() map[string]interface{} {
	c := h.config

	return map[string]interface{}{
		"server": map[string]interface{}{
			"port":                    c.Server.Port,
			"bind_address":            c.Server.BindAddress,
			"media_path":              c.Server.MediaPath,
			"max_concurrent_sessions": c.Server.MaxConcurrentSessions,
			"read_limit":              c.Server.ReadLimit,
		},
		"media": map[string]interface{}{
			"sample_rate":        c.Media.SampleRate,
			"encoding":           c.Media.Encoding,
			"frame_duration_ms":  c.Media.FrameDurationMs,
			"ingress_max_bytes":  c.Media.IngressMaxBytes,
			"keepalive_interval": c.Media.KeepaliveInterval,
		},
		"recognition": map[string]interface{}{
			"url":              c.Recognition.URL,
			"api_key":          "***",
			"model":            c.Recognition.Model,
			"language":         c.Recognition.Language,
			"utterance_end_ms": c.Recognition.UtteranceEndMs,
			"open_timeout":     c.Recognition.OpenTimeout,
			"max_reconnects":   c.Recognition.MaxReconnects,
		},
		"generation": map[string]interface{}{
			"endpoint":       c.Generation.Endpoint,
			"api_key":        "***",
			"model":          c.Generation.Model,
			"temperature":    c.Generation.Temperature,
			"max_tokens":     c.Generation.MaxTokens,
			"timeout":        c.Generation.Timeout,
			"max_retries":    c.Generation.MaxRetries,
			"max_concurrent": c.Generation.MaxConcurrent,
		},
		"synthesis": map[string]interface{}{
			"endpoint":       c.Synthesis.Endpoint,
			"api_key":        "***",
			"voice_id":       c.Synthesis.VoiceID,
			"output_format":  c.Synthesis.OutputFormat,
			"timeout":        c.Synthesis.Timeout,
			"max_retries":    c.Synthesis.MaxRetries,
			"max_concurrent": c.Synthesis.MaxConcurrent,
		},
		"leads": map[string]interface{}{
			"enabled":    c.Leads.Enabled,
			"addr":       c.Leads.Addr,
			"password":   "***",
			"db":         c.Leads.DB,
			"key_prefix": c.Leads.KeyPrefix,
		},
		"session": map[string]interface{}{
			"debounce_ms":     c.Session.DebounceMs,
			"session_timeout": c.Session.SessionTimeout,
		},
	}
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "voice-session-service",
		"endpoints": []string{
			"/health",
			"/sessions",
			"/sessions/{id}",
			"/config",
			"/metrics",
		},
	})
}
