package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types - Client → Server
const (
	EventTypeConversationSubscribe   = "conversation.subscribe"
	EventTypeConversationUnsubscribe = "conversation.unsubscribe"
	EventTypePing                    = "ping"
)

// Event types - Server → Client
const (
	EventTypeSubscribed = "conversation.subscribed"
	EventTypeMessageNew = "message.new"
	EventTypePong       = "pong"
	EventTypeError      = "error"
)

// Error codes sent in ErrorPayload.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeUnknownEvent   = "UNKNOWN_EVENT"
	ErrCodeInternal       = "INTERNAL"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type ConversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// --- Server → Client payloads ---

// message.new carries the dm_messages row exactly as the database trigger
// emitted it (see domain.InsertEvent).

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, conversationID *uuid.UUID, payload any) (*Event, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().Unix(),
	}, nil
}
