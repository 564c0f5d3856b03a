package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config contains speech synthesis client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	VoiceID       string
	OutputFormat  string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Client is a stateless speech synthesis client shared by all sessions.
// It returns raw audio bytes already in the media channel's encoding, so
// synthesized turns can be framed and sent without transcoding.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	semaphore  chan struct{}

	mu              sync.Mutex
	requestsTotal   uint64
	requestsFailed  uint64
	retriesTotal    uint64
	bytesReceived   uint64
	totalDurationMs uint64
}

// Stats represents client statistics for monitoring
type Stats struct {
	RequestsTotal  uint64  `json:"requests_total"`
	RequestsFailed uint64  `json:"requests_failed"`
	RetriesTotal   uint64  `json:"retries_total"`
	BytesReceived  uint64  `json:"bytes_received"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	SuccessRate    float64 `json:"success_rate"`
	ActiveRequests int     `json:"active_requests"`
}

type synthesisRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id"`
	OutputFormat string `json:"output_format"`
}

// NewClient creates a speech synthesis client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.VoiceID == "" {
		return nil, fmt.Errorf("voice ID cannot be empty")
	}

	if config.OutputFormat == "" {
		config.OutputFormat = "ulaw_8000"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:    logger,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Synthesize converts text to audio in the configured output format.
// Retryable failures are retried with exponential backoff up to MaxRetries.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("synthesis request cancelled waiting for slot: %w", ctx.Err())
	}

	start := time.Now()
	requestID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
			c.logger.Warn("Retrying synthesis request",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			c.mu.Lock()
			c.retriesTotal++
			c.mu.Unlock()

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordResult(start, false, 0)
				return nil, fmt.Errorf("synthesis request cancelled: %w", ctx.Err())
			}
		}

		audio, err := c.doRequest(ctx, requestID, text)
		if err == nil {
			c.recordResult(start, true, len(audio))
			return audio, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.recordResult(start, false, 0)

	return nil, fmt.Errorf("synthesis failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single synthesis request
func (c *Client) doRequest(ctx context.Context, requestID, text string) ([]byte, error) {
	payload := synthesisRequest{
		Text:         text,
		VoiceID:      c.config.VoiceID,
		OutputFormat: c.config.OutputFormat,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if len(respBody) == 0 {
		return nil, fmt.Errorf("response contained no audio")
	}

	return respBody, nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		RequestsTotal:  c.requestsTotal,
		RequestsFailed: c.requestsFailed,
		RetriesTotal:   c.retriesTotal,
		BytesReceived:  c.bytesReceived,
		ActiveRequests: len(c.semaphore),
	}

	if c.requestsTotal > 0 {
		stats.AvgDurationMs = float64(c.totalDurationMs) / float64(c.requestsTotal)
		stats.SuccessRate = float64(c.requestsTotal-c.requestsFailed) / float64(c.requestsTotal) * 100
	}

	return stats
}

func (c *Client) recordResult(start time.Time, success bool, audioBytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsTotal++
	if !success {
		c.requestsFailed++
	}
	c.bytesReceived += uint64(audioBytes)
	c.totalDurationMs += uint64(time.Since(start).Milliseconds())
}

// isRetryableError reports whether a request failure is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	retryable := []string{
		"status 500",
		"status 502",
		"status 503",
		"status 504",
		"status 429",
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"EOF",
	}

	for _, pattern := range retryable {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
