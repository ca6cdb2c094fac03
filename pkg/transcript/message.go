package transcript

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/sessioncore/pkg/envelope"
)

type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindError     Kind = "error"
	KindSystem    Kind = "system"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAssistant, KindError, KindSystem:
		return true
	default:
		return false
	}
}

// Message is one transcript entry. Envelope is only set for messages built by
// the structured protocol; Text is always the flattened form.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Text      string            `json:"text"`
	Envelope  envelope.Envelope `json:"envelope,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func newMessage(kind Kind, text string, now time.Time) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: now,
	}
}
