package generation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Model:         "test-model",
		Temperature:   0.7,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 4,
	}
}

func chatReply(content string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("Missing X-Request-ID header")
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Model = %s, want test-model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}

		w.Write([]byte(chatReply("Hi there!")))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	reply, err := client.Generate(context.Background(), "be brief", "hello")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if reply != "Hi there!" {
		t.Errorf("Reply = %q, want %q", reply, "Hi there!")
	}

	stats := client.GetStats()
	if stats.RequestsTotal != 1 || stats.RequestsFailed != 0 {
		t.Errorf("Stats = %+v, want 1 request, 0 failed", stats)
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatReply("recovered")))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	reply, err := client.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Generate() failed after retries: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("Reply = %q, want %q", reply, "recovered")
	}
	if calls.Load() != 3 {
		t.Errorf("Calls = %d, want 3", calls.Load())
	}

	if client.GetStats().RetriesTotal != 2 {
		t.Errorf("RetriesTotal = %d, want 2", client.GetStats().RetriesTotal)
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Generate(context.Background(), "sys", "user"); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("Calls = %d, want 1 (no retries on 400)", calls.Load())
	}
}

func TestGenerateEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("   ")))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Generate(context.Background(), "sys", "user"); err == nil {
		t.Error("Expected error for empty reply")
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Generate(context.Background(), "sys", "user"); err == nil {
		t.Error("Expected error for response without choices")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k", Model: "m"}, testLogger()); err == nil {
		t.Error("Expected error for missing endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://x", Model: "m"}, testLogger()); err == nil {
		t.Error("Expected error for missing API key")
	}
	if _, err := NewClient(Config{Endpoint: "http://x", APIKey: "k"}, testLogger()); err == nil {
		t.Error("Expected error for missing model")
	}
}
