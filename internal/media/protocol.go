package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event types carried in the media channel's JSON messages
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventMark  = "mark"
)

// ParamCallerPhoneNumber is the custom parameter key carrying the caller's
// phone number on the start event
const ParamCallerPhoneNumber = "callerPhoneNumber"

// Message represents one JSON message on the media channel
// Layout: {"event": "...", "streamSid": "...", <event payload>}
type Message struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries call identity and media negotiation on stream start
type StartPayload struct {
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the negotiated audio encoding of the channel
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64-encoded audio frame
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopPayload signals the end of the stream
type StopPayload struct {
	CallSid string `json:"callSid,omitempty"`
}

// MarkPayload labels a point in the outbound audio stream
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseMessage parses and validates one inbound channel message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse channel message: %w", err)
	}

	switch msg.Event {
	case EventStart:
		if msg.Start == nil {
			return nil, fmt.Errorf("start event missing start payload")
		}
		if msg.Start.StreamSid == "" {
			return nil, fmt.Errorf("start event missing streamSid")
		}
	case EventMedia:
		if msg.Media == nil {
			return nil, fmt.Errorf("media event missing media payload")
		}
	case EventStop, EventMark:
		// No required payload beyond the event itself
	case "":
		return nil, fmt.Errorf("channel message missing event field")
	default:
		return nil, fmt.Errorf("unknown channel event '%s'", msg.Event)
	}

	return &msg, nil
}

// Decode returns the raw audio bytes of a media payload
func (p *MediaPayload) Decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media payload: %w", err)
	}
	return raw, nil
}

// NewMediaMessage builds an outbound media message for one audio frame
func NewMediaMessage(streamSid string, frame []byte) *Message {
	return &Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// NewMarkMessage builds an outbound mark message
func NewMarkMessage(streamSid, name string) *Message {
	return &Message{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	}
}
