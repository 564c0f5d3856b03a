package media

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestParseStartMessage(t *testing.T) {
	data := []byte(`{
		"event": "start",
		"streamSid": "MZ123",
		"start": {
			"callSid": "CA456",
			"streamSid": "MZ123",
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
			"customParameters": {"callerPhoneNumber": "+15551234567"}
		}
	}`)

	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() failed: %v", err)
	}

	if msg.Event != EventStart {
		t.Errorf("Event = %s, want start", msg.Event)
	}
	if msg.Start.CallSid != "CA456" {
		t.Errorf("CallSid = %s, want CA456", msg.Start.CallSid)
	}
	if msg.Start.CustomParameters[ParamCallerPhoneNumber] != "+15551234567" {
		t.Errorf("Caller phone = %s, want +15551234567", msg.Start.CustomParameters[ParamCallerPhoneNumber])
	}
}

func TestParseMediaMessage(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	payload := base64.StdEncoding.EncodeToString(frame)

	data := []byte(`{"event": "media", "streamSid": "MZ123", "media": {"payload": "` + payload + `"}}`)

	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() failed: %v", err)
	}

	decoded, err := msg.Media.Decode()
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	if !bytes.Equal(decoded, frame) {
		t.Errorf("Decoded frame = %v, want %v", decoded, frame)
	}
}

func TestParseStopMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"event": "stop", "streamSid": "MZ123"}`))
	if err != nil {
		t.Fatalf("ParseMessage() failed: %v", err)
	}
	if msg.Event != EventStop {
		t.Errorf("Event = %s, want stop", msg.Event)
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing event", `{"streamSid": "MZ123"}`},
		{"unknown event", `{"event": "bogus"}`},
		{"start without payload", `{"event": "start"}`},
		{"start without streamSid", `{"event": "start", "start": {"callSid": "CA1"}}`},
		{"media without payload", `{"event": "media"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.data)); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestDecodeInvalidPayload(t *testing.T) {
	p := &MediaPayload{Payload: "not-base64!!!"}
	if _, err := p.Decode(); err == nil {
		t.Error("Expected decode error")
	}
}

func TestNewMediaMessage(t *testing.T) {
	frame := []byte{0xFF, 0xFE, 0xFD}
	msg := NewMediaMessage("MZ999", frame)

	if msg.Event != EventMedia {
		t.Errorf("Event = %s, want media", msg.Event)
	}
	if msg.StreamSid != "MZ999" {
		t.Errorf("StreamSid = %s, want MZ999", msg.StreamSid)
	}

	decoded, err := msg.Media.Decode()
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if !bytes.Equal(decoded, frame) {
		t.Errorf("Round-tripped frame = %v, want %v", decoded, frame)
	}
}

func TestNewMarkMessage(t *testing.T) {
	msg := NewMarkMessage("MZ999", "turn-3")

	if msg.Event != EventMark {
		t.Errorf("Event = %s, want mark", msg.Event)
	}
	if msg.Mark.Name != "turn-3" {
		t.Errorf("Mark name = %s, want turn-3", msg.Mark.Name)
	}
}
