package recognition

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		APIKey:         "test-key",
		Encoding:       "mulaw",
		SampleRate:     8000,
		UtteranceEndMs: 1000,
		OpenTimeout:    2 * time.Second,
		MaxReconnects:  1,
	}
}

// recognitionScript serves one scripted recognition connection
func recognitionScript(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, sup *Supervisor, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-sup.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func sendResults(conn *websocket.Conn, text string, isFinal, speechFinal bool) error {
	msg := map[string]interface{}{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{
				{"transcript": text, "confidence": 0.9},
			},
		},
	}
	return conn.WriteJSON(msg)
}

func TestSupervisorOpensAndDeliversTranscripts(t *testing.T) {
	srv := recognitionScript(t, func(conn *websocket.Conn) {
		// Wait for some audio, then emit an interim followed by a final.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		sendResults(conn, "hel", false, false)
		sendResults(conn, "hello world", true, true)
		conn.WriteJSON(map[string]string{"type": "UtteranceEnd"})

		// Hold the connection until the client finalizes.
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				var ctrl struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(data, &ctrl) == nil && ctrl.Type == "CloseStream" {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	})
	defer srv.Close()

	sup, err := NewSupervisor(testConfig(wsURL(srv)), "test-session", testLogger())
	if err != nil {
		t.Fatalf("NewSupervisor() failed: %v", err)
	}
	defer sup.Close()

	sup.Start()

	if ev := nextEvent(t, sup, 3*time.Second); ev.Type != EventOpen {
		t.Fatalf("First event = %v, want EventOpen", ev.Type)
	}

	if sup.State() != StateOpen {
		t.Errorf("State() = %v, want open", sup.State())
	}

	if err := sup.SendAudio(make([]byte, 160)); err != nil {
		t.Fatalf("SendAudio() failed: %v", err)
	}

	// The interim result is swallowed; only the final arrives.
	ev := nextEvent(t, sup, 3*time.Second)
	if ev.Type != EventTranscript {
		t.Fatalf("Event = %v, want EventTranscript", ev.Type)
	}
	if ev.Text != "hello world" {
		t.Errorf("Text = %q, want %q", ev.Text, "hello world")
	}
	if !ev.SpeechFinal {
		t.Error("SpeechFinal = false, want true")
	}

	if ev := nextEvent(t, sup, 3*time.Second); ev.Type != EventUtteranceEnd {
		t.Fatalf("Event = %v, want EventUtteranceEnd", ev.Type)
	}

	if err := sup.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	if ev := nextEvent(t, sup, 3*time.Second); ev.Type != EventClosed {
		t.Fatalf("Event = %v, want EventClosed after finalize", ev.Type)
	}
}

func TestSupervisorSendAudioWhileNotOpen(t *testing.T) {
	sup, err := NewSupervisor(testConfig("ws://127.0.0.1:1/v1/listen"), "test-session", testLogger())
	if err != nil {
		t.Fatalf("NewSupervisor() failed: %v", err)
	}
	defer sup.Close()

	if err := sup.SendAudio([]byte{1}); err != ErrNotOpen {
		t.Errorf("SendAudio() error = %v, want ErrNotOpen", err)
	}
}

func TestSupervisorGivesUpAfterMaxReconnects(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/v1/listen") // nothing listening
	cfg.OpenTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 1

	sup, err := NewSupervisor(cfg, "test-session", testLogger())
	if err != nil {
		t.Fatalf("NewSupervisor() failed: %v", err)
	}
	defer sup.Close()

	sup.Start()

	sawClosed := false
	deadline := time.After(5 * time.Second)
	for !sawClosed {
		select {
		case ev := <-sup.Events():
			switch ev.Type {
			case EventClosed:
				sawClosed = true
			case EventError:
				// expected along the way
			default:
				t.Fatalf("Unexpected event %v while failing to connect", ev.Type)
			}
		case <-deadline:
			t.Fatal("Never saw EventClosed")
		}
	}

	if sup.State() != StateClosed {
		t.Errorf("State = %v, want closed", sup.State())
	}
}

func TestSupervisorStaleWatchdogDoesNotRedialOpenConnection(t *testing.T) {
	var mu sync.Mutex
	dials := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()

		if n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		// Stall the handshake so the first attempt's open deadline lapses
		// while this dial is still in flight.
		time.Sleep(500 * time.Millisecond)

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.OpenTimeout = 800 * time.Millisecond
	cfg.MaxReconnects = 5

	sup, err := NewSupervisor(cfg, "test-session", testLogger())
	if err != nil {
		t.Fatalf("NewSupervisor() failed: %v", err)
	}
	defer sup.Close()

	sup.Start()

	if ev := nextEvent(t, sup, 3*time.Second); ev.Type != EventError {
		t.Fatalf("First event = %v, want EventError from the rejected dial", ev.Type)
	}
	if ev := nextEvent(t, sup, 3*time.Second); ev.Type != EventOpen {
		t.Fatalf("Event = %v, want EventOpen from the second dial", ev.Type)
	}

	// Wait out any retry the first attempt's watchdog could have scheduled.
	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	finalDials := dials
	mu.Unlock()
	if finalDials != 2 {
		t.Errorf("Dial count = %d, want 2 (no redial over the open connection)", finalDials)
	}

	if sup.State() != StateOpen {
		t.Errorf("State() = %v, want open", sup.State())
	}
	if err := sup.SendAudio(make([]byte, 160)); err != nil {
		t.Errorf("SendAudio() on the open connection failed: %v", err)
	}

	select {
	case ev := <-sup.Events():
		t.Fatalf("Unexpected event %v after the connection opened", ev.Type)
	default:
	}
}

func TestSupervisorRequiresURLAndKey(t *testing.T) {
	if _, err := NewSupervisor(Config{APIKey: "k"}, "s", testLogger()); err == nil {
		t.Error("Expected error for missing URL")
	}
	if _, err := NewSupervisor(Config{URL: "ws://x"}, "s", testLogger()); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestSupervisorIncludesAudioParams(t *testing.T) {
	gotQuery := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.RawQuery
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.Model = "nova-2"
	cfg.Language = "en"

	sup, err := NewSupervisor(cfg, "test-session", testLogger())
	if err != nil {
		t.Fatalf("NewSupervisor() failed: %v", err)
	}
	defer sup.Close()

	sup.Start()

	select {
	case q := <-gotQuery:
		for _, want := range []string{"encoding=mulaw", "sample_rate=8000", "interim_results=true", "utterance_end_ms=1000", "model=nova-2", "language=en"} {
			if !strings.Contains(q, want) {
				t.Errorf("Query %q missing %q", q, want)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Server never saw the connection")
	}
}
