package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type ConversationRepository interface {
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error)
	// GetConversation returns nil when the conversation does not exist or
	// userID is not a participant.
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error)
	GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

type WriteInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	Attachments    []domain.Attachment
	// CreatedAt defaults to the server clock when nil.
	CreatedAt *time.Time
}

type WriteResult struct {
	ID        string
	CreatedAt time.Time
}

type MessageWriter interface {
	WriteMessage(ctx context.Context, in WriteInput) (*WriteResult, error)
}

type MessageReader interface {
	// ListMessages returns up to limit of the newest persisted messages in
	// chronological order.
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error)
}

type MessageUpdater interface {
	UpdateMessage(ctx context.Context, id, content string) error
}

// EventHandler receives raw row-insert payloads.
type EventHandler func(ctx context.Context, payload []byte)

// Subscription is a live push stream. Done is closed when delivery stops;
// Err is nil after Unsubscribe and non-nil when the stream broke.
type Subscription interface {
	Unsubscribe()
	Done() <-chan struct{}
	Err() error
}

// Subscriber opens a push stream for one conversation, or for every
// conversation when conversationID is uuid.Nil.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID uuid.UUID, handler EventHandler) (Subscription, error)
}
