package synthesis

import (
	"bytes"
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
		VoiceID:       "test-voice",
		OutputFormat:  "ulaw_8000",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 4,
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	audio := []byte{0xFF, 0x7F, 0xFF, 0x7F}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Text != "hello caller" {
			t.Errorf("Text = %q, want %q", req.Text, "hello caller")
		}
		if req.VoiceID != "test-voice" {
			t.Errorf("VoiceID = %q, want test-voice", req.VoiceID)
		}
		if req.OutputFormat != "ulaw_8000" {
			t.Errorf("OutputFormat = %q, want ulaw_8000", req.OutputFormat)
		}

		w.Write(audio)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	got, err := client.Synthesize(context.Background(), "hello caller")
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Audio = %v, want %v", got, audio)
	}

	stats := client.GetStats()
	if stats.BytesReceived != uint64(len(audio)) {
		t.Errorf("BytesReceived = %d, want %d", stats.BytesReceived, len(audio))
	}
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		w.Write([]byte{0xFF})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Synthesize(context.Background(), "hi"); err != nil {
		t.Fatalf("Synthesize() failed after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Calls = %d, want 2", calls.Load())
	}
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Synthesize(context.Background(), "hi"); err == nil {
		t.Error("Expected error for empty audio response")
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	client, err := NewClient(testConfig("http://example.com"), testLogger())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if _, err := client.Synthesize(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k", VoiceID: "v"}, testLogger()); err == nil {
		t.Error("Expected error for missing endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://x", VoiceID: "v"}, testLogger()); err == nil {
		t.Error("Expected error for missing API key")
	}
	if _, err := NewClient(Config{Endpoint: "http://x", APIKey: "k"}, testLogger()); err == nil {
		t.Error("Expected error for missing voice ID")
	}
}
