package generation

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

// Config contains text generation client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Client is a stateless text generation client shared by all sessions.
// Conversation state lives in the session; every request carries the full
// prompt it needs.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	semaphore  chan struct{}

	mu              sync.Mutex
	requestsTotal   uint64
	requestsFailed  uint64
	retriesTotal    uint64
	totalDurationMs uint64
}

// Stats represents client statistics for monitoring
type Stats struct {
	RequestsTotal   uint64  `json:"requests_total"`
	RequestsFailed  uint64  `json:"requests_failed"`
	RetriesTotal    uint64  `json:"retries_total"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	SuccessRate     float64 `json:"success_rate"`
	MaxConcurrent   int     `json:"max_concurrent"`
	ActiveRequests  int     `json:"active_requests"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient creates a text generation client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
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

// Generate produces one reply for the given system and user prompts.
// Retryable failures are retried with exponential backoff up to MaxRetries.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", fmt.Errorf("generation request cancelled waiting for slot: %w", ctx.Err())
	}

	start := time.Now()
	requestID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
			c.logger.Warn("Retrying generation request",
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
				c.recordResult(start, false)
				return "", fmt.Errorf("generation request cancelled: %w", ctx.Err())
			}
		}

		reply, err := c.doRequest(ctx, requestID, system, user)
		if err == nil {
			c.recordResult(start, true)
			return reply, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.recordResult(start, false)

	return "", fmt.Errorf("generation failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single generation request
func (c *Client) doRequest(ctx context.Context, requestID, system, user string) (string, error) {
	payload := chatRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("generation error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("response contained empty reply")
	}

	return reply, nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		RequestsTotal:  c.requestsTotal,
		RequestsFailed: c.requestsFailed,
		RetriesTotal:   c.retriesTotal,
		MaxConcurrent:  c.config.MaxConcurrent,
		ActiveRequests: len(c.semaphore),
	}

	if c.requestsTotal > 0 {
		stats.AvgDurationMs = float64(c.totalDurationMs) / float64(c.requestsTotal)
		stats.SuccessRate = float64(c.requestsTotal-c.requestsFailed) / float64(c.requestsTotal) * 100
	}

	return stats
}

func (c *Client) recordResult(start time.Time, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsTotal++
	if !success {
		c.requestsFailed++
	}
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
