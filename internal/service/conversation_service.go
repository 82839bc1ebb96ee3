package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/repository"
	"github.com/vedran77/mailbox/internal/store"
	"go.uber.org/zap"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrCannotDMSelf         = errors.New("cannot start a conversation with yourself")
	ErrUserNotFound         = errors.New("user not found")
)

const (
	DefaultHistoryLimit = 50

	noMessagesPreview = "No messages yet"
	attachmentPreview = "📎 Attachment"
	ownPreviewPrefix  = "You: "
)

// ConversationPreview is one row of the conversation list.
type ConversationPreview struct {
	Conversation domain.Conversation
	LastMessage  domain.Message
	PreviewText  string
	Unread       int
	MessageCount int
}

// ConversationIndex lists the current user's conversations and renders
// their previews from the store. It only writes conversation metadata and
// loaded history into the store, never individual message changes.
type ConversationIndex struct {
	store        *store.MessageStore
	convRepo     repository.ConversationRepository
	reader       repository.MessageReader
	users        IdentityLookup
	currentUser  uuid.UUID
	historyLimit int
	logger       *zap.SugaredLogger
	now          func() time.Time

	mu       sync.Mutex
	selected uuid.UUID
	lastSeen map[uuid.UUID]time.Time
}

func NewConversationIndex(
	st *store.MessageStore,
	convRepo repository.ConversationRepository,
	reader repository.MessageReader,
	users IdentityLookup,
	currentUserID uuid.UUID,
	log *zap.SugaredLogger,
) *ConversationIndex {
	return &ConversationIndex{
		store:        st,
		convRepo:     convRepo,
		reader:       reader,
		users:        users,
		currentUser:  currentUserID,
		historyLimit: DefaultHistoryLimit,
		logger:       logger.OrNop(log),
		now:          time.Now,
		lastSeen:     make(map[uuid.UUID]time.Time),
	}
}

// Load fetches the conversation list into the store. Each conversation's
// most recent message is loaded too so previews render before it is opened;
// the rest of the history waits for Open.
func (x *ConversationIndex) Load(ctx context.Context) error {
	summaries, err := x.convRepo.ListConversations(ctx, x.currentUser)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	for _, s := range summaries {
		x.store.Upsert(s.Conversation)
		if s.LastMessage != nil {
			x.store.Load(s.ID, []domain.Message{*s.LastMessage})
		}
	}
	return nil
}

// Open loads a conversation's history and selects it.
func (x *ConversationIndex) Open(ctx context.Context, conversationID uuid.UUID) error {
	if err := x.Hydrate(ctx, conversationID); err != nil {
		return err
	}
	x.Select(conversationID)
	return nil
}

// Hydrate resolves participants and persisted history for a conversation.
func (x *ConversationIndex) Hydrate(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := x.convRepo.GetConversation(ctx, conversationID, x.currentUser)
	if err != nil {
		return fmt.Errorf("getting conversation: %w", err)
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	messages, err := x.reader.ListMessages(ctx, conversationID, x.historyLimit)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	x.store.Upsert(*conv)
	x.store.Load(conversationID, messages)
	return nil
}

// Select marks conversationID as the one on screen. Leaving a conversation
// records when it was last seen.
func (x *ConversationIndex) Select(conversationID uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	if x.selected != uuid.Nil {
		x.lastSeen[x.selected] = now
	}
	x.selected = conversationID
	if conversationID != uuid.Nil {
		x.lastSeen[conversationID] = now
	}
}

func (x *ConversationIndex) Selected() uuid.UUID {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.selected
}

// Previews returns every known conversation, most recent activity first.
func (x *ConversationIndex) Previews() []ConversationPreview {
	convs := x.store.Conversations()

	x.mu.Lock()
	selected := x.selected
	lastSeen := make(map[uuid.UUID]time.Time, len(x.lastSeen))
	for k, v := range x.lastSeen {
		lastSeen[k] = v
	}
	x.mu.Unlock()

	out := make([]ConversationPreview, 0, len(convs))
	for _, c := range convs {
		p := ConversationPreview{
			Conversation: c,
			LastMessage:  c.LastMessage(),
			MessageCount: len(c.Messages),
		}
		p.PreviewText = x.previewText(p.LastMessage)
		if c.ID != selected {
			p.Unread = x.unread(c.Messages, lastSeen[c.ID])
		}
		p.Conversation.Messages = nil
		out = append(out, p)
	}

	slices.SortStableFunc(out, func(a, b ConversationPreview) int {
		return activity(b).Compare(activity(a))
	})
	return out
}

// Search filters previews by a case-insensitive substring of the other
// participant's display name or username. An empty query matches all.
func (x *ConversationIndex) Search(query string) []ConversationPreview {
	previews := x.Previews()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return previews
	}

	return slices.DeleteFunc(previews, func(p ConversationPreview) bool {
		name := strings.ToLower(p.Conversation.OtherUserDisplayName)
		username := strings.ToLower(p.Conversation.OtherUserUsername)
		return !strings.Contains(name, query) && !strings.Contains(username, query)
	})
}

// StartConversation finds or creates the conversation with otherUserID.
func (x *ConversationIndex) StartConversation(ctx context.Context, otherUserID uuid.UUID) (*domain.Conversation, error) {
	if otherUserID == x.currentUser {
		return nil, ErrCannotDMSelf
	}

	other, err := x.users.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	u1, u2 := domain.CanonicalPair(x.currentUser, otherUserID)

	conv, err := x.convRepo.GetConversationByUsers(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		conv = &domain.Conversation{
			ID:        uuid.New(),
			User1ID:   u1,
			User2ID:   u2,
			CreatedAt: x.now(),
		}
		if err := x.convRepo.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		x.logger.Infow("conversation created", "conversation_id", conv.ID, "other_user_id", otherUserID)
	}

	conv.OtherUserID = otherUserID
	conv.OtherUserUsername = other.Username
	conv.OtherUserDisplayName = other.DisplayName
	x.store.Upsert(*conv)

	return conv, nil
}

func (x *ConversationIndex) previewText(last domain.Message) string {
	if last.IsEmpty() {
		return noMessagesPreview
	}
	text := last.Content
	if strings.TrimSpace(text) == "" && len(last.Attachments) > 0 {
		text = attachmentPreview
	}
	if last.SenderID == x.currentUser {
		return ownPreviewPrefix + text
	}
	return text
}

// unread counts foreign messages held in the store that are newer than seen.
// Read state is local to this session and the store holds only the latest
// message of a conversation that was never opened, so until then the count
// is at most 1 plus whatever arrived by push.
func (x *ConversationIndex) unread(messages []domain.Message, seen time.Time) int {
	n := 0
	for _, m := range messages {
		if m.SenderID != x.currentUser && m.CreatedAt.After(seen) {
			n++
		}
	}
	return n
}

func activity(p ConversationPreview) time.Time {
	if !p.LastMessage.IsEmpty() {
		return p.LastMessage.CreatedAt
	}
	return p.Conversation.CreatedAt
}
