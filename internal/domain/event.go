package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrMalformedEvent = errors.New("malformed insert event")

// InsertEvent is the row shape pushed for every inserted dm_messages row.
type InsertEvent struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ParseInsertEvent decodes a raw row-insert payload into a confirmed message.
func ParseInsertEvent(raw []byte) (Message, error) {
	var evt InsertEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	switch {
	case evt.ID == uuid.Nil:
		return Message{}, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	case evt.ConversationID == uuid.Nil:
		return Message{}, fmt.Errorf("%w: missing conversation_id", ErrMalformedEvent)
	case evt.SenderID == uuid.Nil:
		return Message{}, fmt.Errorf("%w: missing sender_id", ErrMalformedEvent)
	case evt.CreatedAt.IsZero():
		return Message{}, fmt.Errorf("%w: missing created_at", ErrMalformedEvent)
	}

	return Message{
		ID:             evt.ID.String(),
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		Content:        evt.Content,
		Attachments:    evt.Attachments,
		CreatedAt:      evt.CreatedAt,
		Status:         StatusSent,
	}, nil
}

// Notification is a recipient-facing alert about a foreign message.
type Notification struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
