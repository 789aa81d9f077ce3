package session

import (
	"time"

	"github.com/antoniostano/voxline/internal/agent"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateEnding   State = "ending"
)

// Session is the controller's record of the current (or last) call.
// Callers only ever see copies.
type Session struct {
	ID              string              `json:"session_id"`
	AgentID         string              `json:"agent_id"`
	State           State               `json:"state"`
	StartedAt       time.Time           `json:"started_at"`
	GreetingSent    bool                `json:"greeting_sent"`
	UserStartsFirst bool                `json:"user_starts_first"`
	Timeout         agent.TimeoutPolicy `json:"timeout"`
}

type EventType string

const (
	EventState      EventType = "state"
	EventTranscript EventType = "transcript"
	EventReply      EventType = "reply"
	EventTimeout    EventType = "timeout"
	EventError      EventType = "error"
)

const (
	TimeoutFixedDuration = "fixed_duration"
	TimeoutNoActivity    = "no_activity"
)

// Event is a notification published to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timeout   string    `json:"timeout,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
