package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// ErrNotFound is returned when no transcript matches an ID or prefix.
var ErrNotFound = errors.New("transcript not found")

// Status is how the recorded chat ended.
type Status string

const (
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusOffTopic Status = "off_topic"
	StatusCanceled Status = "canceled"
)

// Transcript is the metadata of one recorded /chat request. Transcripts are
// an audit log; they are never fed back into a conversation.
type Transcript struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Model     string    `json:"model"`
	Error     string    `json:"error,omitempty"`
	Turns     int       `json:"turns"`
	ToolCalls int       `json:"tool_calls"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions controls filtering and pagination for ListTranscripts.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// Store is the persistence interface for transcripts.
type Store interface {
	// SaveTranscript inserts a transcript and its messages. The ID field must
	// be set by the caller.
	SaveTranscript(ctx context.Context, t *Transcript, messages []llm.Message) error

	// GetTranscript returns a transcript by ID or ID prefix.
	GetTranscript(ctx context.Context, id string) (*Transcript, error)

	// ListTranscripts returns transcripts ordered by created_at descending.
	ListTranscripts(ctx context.Context, opts ListOptions) ([]Transcript, error)

	// DeleteTranscript removes a transcript and its messages.
	DeleteTranscript(ctx context.Context, id string) error

	// LoadMessages returns the recorded messages of a transcript.
	LoadMessages(ctx context.Context, id string) ([]llm.Message, error)

	// Close releases resources.
	Close() error
}

// CountToolCalls returns how many tool invocations messages contain.
func CountToolCalls(messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.ToolCalls)
	}
	return n
}
