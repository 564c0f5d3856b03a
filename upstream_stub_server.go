// Standalone stub of the upstream services for local development: a
// recognition websocket that emits a transcript for every stretch of audio,
// a generation endpoint with canned replies, and a synthesis endpoint that
// returns silence sized to the text.
//
// Run with: go run upstream_stub_server.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var stubUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bytesPerTranscript is roughly two seconds of 8 kHz mulaw
const bytesPerTranscript = 16000

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	flag.Parse()

	http.HandleFunc("/v1/listen", handleListen)
	http.HandleFunc("/v1/chat/completions", handleGenerate)
	http.HandleFunc("/v1/text-to-speech", handleSynthesize)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Upstream stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func handleListen(w http.ResponseWriter, r *http.Request) {
	conn, err := stubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("recognition stream opened: %s", r.URL.RawQuery)

	audioBytes := 0
	utterance := 0

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("recognition stream closed: %v", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			audioBytes += len(data)
			if audioBytes >= bytesPerTranscript {
				audioBytes = 0
				utterance++
				sendTranscript(conn, fmt.Sprintf("stub utterance %d", utterance), true)
				sendUtteranceEnd(conn)
			}

		case websocket.TextMessage:
			var ctrl struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &ctrl) == nil && ctrl.Type == "CloseStream" {
				if audioBytes > 0 {
					utterance++
					sendTranscript(conn, fmt.Sprintf("stub trailing utterance %d", utterance), true)
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

func sendTranscript(conn *websocket.Conn, text string, speechFinal bool) {
	msg := map[string]interface{}{
		"type":         "Results",
		"is_final":     true,
		"speech_final": speechFinal,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{
				{"transcript": text, "confidence": 0.95},
			},
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("failed to send transcript: %v", err)
	}
}

func sendUtteranceEnd(conn *websocket.Conn) {
	if err := conn.WriteJSON(map[string]interface{}{"type": "UtteranceEnd"}); err != nil {
		log.Printf("failed to send utterance end: %v", err)
	}
}

func handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	user := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}
	log.Printf("generation request: %q", user)

	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": "Thanks, got it. What else can I help with?"}},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	log.Printf("synthesis request: %q", req.Text)

	// Roughly 60 ms of mulaw silence per character, 0xFF is mulaw zero.
	audio := make([]byte, len(req.Text)*480)
	for i := range audio {
		audio[i] = 0xFF
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(audio)
}
