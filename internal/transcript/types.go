package transcript

import (
	"context"
	"time"
)

// Entry is a single caller or assistant utterance recorded for audit.
type Entry struct {
	ID            string    `json:"id"`
	CallControlID string    `json:"call_control_id"`
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	Redacted      bool      `json:"redacted"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// Store persists and retrieves call transcripts.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, callControlID string, limit int) ([]Entry, error)
	Close() error
}
