package domain

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	User1ID   uuid.UUID `json:"user1_id"`
	User2ID   uuid.UUID `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
	// Joined fields, relative to the viewing user
	OtherUserID          uuid.UUID `json:"other_user_id"`
	OtherUserUsername    string    `json:"other_username"`
	OtherUserDisplayName string    `json:"other_display_name"`

	// Messages are ordered by CreatedAt, ties kept in arrival order.
	Messages []Message `json:"messages,omitempty"`
	// Hydrated is false for conversations first seen through a push event.
	Hydrated bool `json:"-"`
}

// ConversationSummary is a conversation row plus its most recent message.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
}

// LastMessage returns the chronologically last message, or the empty
// sentinel (see Message.IsEmpty) when there are none.
func (c *Conversation) LastMessage() Message {
	if len(c.Messages) == 0 {
		return Message{}
	}
	return c.Messages[len(c.Messages)-1]
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// CanonicalPair orders two user ids the way dm_conversations stores them.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (c *Conversation) Clone() Conversation {
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i, m := range c.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return out
}
