// Package transcript keeps a durable log of every spoken turn in a call.
package transcript

import (
	"context"
	"time"

	"github.com/antoniostano/voxline/internal/policy"
)

// Record stores a single user or agent turn.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	AgentID     string    `json:"agent_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves call transcripts.
type Store interface {
	Append(ctx context.Context, record Record) error
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// Redact masks PII in the record content before it is stored.
func Redact(r Record) Record {
	content, changed := policy.RedactPII(r.Content)
	r.Content = content
	r.PIIRedacted = r.PIIRedacted || changed
	return r
}
