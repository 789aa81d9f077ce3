package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event identifies duplex channel payload variants.
type Event string

const (
	EventAudio      Event = "audio"
	EventTranscript Event = "transcript"
	EventPing       Event = "ping"
	EventPong       Event = "pong"
	EventError      Event = "error"
)

var ErrUnsupportedEvent = errors.New("unsupported event")

// Envelope is the JSON frame exchanged over the channel in both directions.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a client frame ready to be written as JSON.
type Outbound struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

// ClientAudio carries one capture frame.
type ClientAudio struct {
	Data string `json:"data"`
}

// Transcript is a recognized user utterance.
type Transcript struct {
	Text string `json:"text"`
}

// ServerAudio is synthesized reply audio.
type ServerAudio struct {
	Audio string `json:"audio"`
}

type Ping struct{}

type Pong struct{}

// ErrorEvent is a non-fatal diagnostic from the backend.
type ErrorEvent struct {
	Message string `json:"message"`
}

func NewAudio(data string) Outbound {
	return Outbound{Event: EventAudio, Payload: ClientAudio{Data: data}}
}

func NewPing() Outbound { return Outbound{Event: EventPing, Payload: struct{}{}} }

func NewPong() Outbound { return Outbound{Event: EventPong, Payload: struct{}{}} }

// ParseServerMessage decodes a server→client frame into its typed payload.
func ParseServerMessage(raw []byte) (any, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventTranscript:
		var msg Transcript
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid transcript: empty text")
		}
		return msg, nil
	case EventAudio:
		var msg ServerAudio
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" {
			return nil, errors.New("invalid audio: empty payload")
		}
		return msg, nil
	case EventPing:
		return Ping{}, nil
	case EventPong:
		return Pong{}, nil
	case EventError:
		var msg ErrorEvent
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedEvent, env.Event)
	}
}

// ParseClientMessage decodes a client→server frame; backends and test
// harnesses use it to read what the engine sends.
func ParseClientMessage(raw []byte) (any, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventAudio:
		var msg ClientAudio
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid audio: empty data")
		}
		return msg, nil
	case EventPing:
		return Ping{}, nil
	case EventPong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedEvent, env.Event)
	}
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("invalid envelope: missing event")
	}
	return env, nil
}

func decodePayload(env Envelope, out any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return nil
}
