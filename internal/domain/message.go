package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks ids generated locally for messages the backend has
// not confirmed yet. Server-assigned ids never carry it.
const ProvisionalPrefix = "local-"

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Status         Status       `json:"status"`
	Edited         bool         `json:"edited"`
	Reactions      Reactions    `json:"reactions,omitempty"`
}

// NewProvisionalID returns a fresh client-side id. Ids are never reused.
func NewProvisionalID() string {
	return ProvisionalPrefix + uuid.NewString()
}

func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsEmpty reports whether m is the "no messages" sentinel.
func (m Message) IsEmpty() bool {
	return m.ID == ""
}

// Clone returns a deep copy so callers cannot alias store internals.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	out.Reactions = m.Reactions.Clone()
	return out
}
