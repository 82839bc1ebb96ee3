// Package store holds the in-memory view of the loaded conversations and
// their messages. It performs no I/O; callers own persistence and
// notification.
package store

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/reaction"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotProvisional       = errors.New("message is not provisional")
	ErrMessageHidden        = errors.New("message was deleted locally")
)

type ChangeKind uint8

const (
	ChangeConversation ChangeKind = iota
	ChangeInserted
	ChangeReconciled
	ChangeFailed
	ChangeMerged
	ChangeEdited
	ChangeRemoved
	ChangeReaction
	ChangeStatus
)

// Change describes one applied mutation. PreviousID is set on
// ChangeReconciled to the discarded provisional id.
type Change struct {
	Kind           ChangeKind
	ConversationID uuid.UUID
	MessageID      string
	PreviousID     string
}

// MergeResult reports what MergeIncoming did.
type MergeResult struct {
	Inserted            bool
	ConversationCreated bool
	// Latest is true when the merged message became the last message.
	Latest bool
}

// MessageStore is safe for concurrent use. Every mutation restores the
// ordering and lastMessage invariants before the lock is released; listeners
// run after release and may read the store.
type MessageStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	// hidden holds ids deleted locally, per conversation. They stay hidden
	// for the life of the store even when the backend pushes them again.
	hidden map[uuid.UUID]map[string]struct{}

	lmu          sync.Mutex
	listeners    map[int]func(Change)
	nextListener int
}

func New() *MessageStore {
	return &MessageStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		hidden:        make(map[uuid.UUID]map[string]struct{}),
		listeners:     make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every applied change and returns a func that
// removes it.
func (s *MessageStore) Subscribe(fn func(Change)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *MessageStore) notify(ch Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Upsert registers a conversation or refreshes its metadata. Messages
// already held are kept; conv.Messages is ignored.
func (s *MessageStore) Upsert(conv domain.Conversation) {
	s.mu.Lock()
	existing, ok := s.conversations[conv.ID]
	if ok {
		conv.Messages = existing.Messages
	} else {
		conv.Messages = nil
	}
	conv.Hydrated = true
	s.conversations[conv.ID] = &conv
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversation, ConversationID: conv.ID})
}

// Load merges persisted messages into a conversation, creating it if needed.
// Messages already present by id are left as they are; hidden ids are skipped.
func (s *MessageStore) Load(conversationID uuid.UUID, messages []domain.Message) {
	s.mu.Lock()
	conv := s.conversationLocked(conversationID)
	for _, m := range messages {
		if indexOf(conv.Messages, m.ID) >= 0 || s.hiddenLocked(conversationID, m.ID) {
			continue
		}
		m = m.Clone()
		m.ConversationID = conversationID
		conv.Messages = insertOrdered(conv.Messages, m)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversation, ConversationID: conversationID})
}

func (s *MessageStore) RemoveConversation(conversationID uuid.UUID) {
	s.mu.Lock()
	_, ok := s.conversations[conversationID]
	delete(s.conversations, conversationID)
	s.mu.Unlock()

	if ok {
		s.notify(Change{Kind: ChangeConversation, ConversationID: conversationID})
	}
}

// Conversation returns a deep copy of the conversation.
func (s *MessageStore) Conversation(conversationID uuid.UUID) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, false
	}
	return conv.Clone(), true
}

func (s *MessageStore) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	return out
}

func (s *MessageStore) Messages(conversationID uuid.UUID) []domain.Message {
	conv, ok := s.Conversation(conversationID)
	if !ok {
		return nil
	}
	return conv.Messages
}

func (s *MessageStore) Message(conversationID uuid.UUID, messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.Message{}, false
	}
	i := indexOf(conv.Messages, messageID)
	if i < 0 {
		return domain.Message{}, false
	}
	return conv.Messages[i].Clone(), true
}

// IsParticipant reports whether userID belongs to the conversation. A
// placeholder created by a push has no participants yet and admits anyone.
func (s *MessageStore) IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, ErrConversationNotFound
	}
	if !conv.Hydrated {
		return true, nil
	}
	return conv.HasParticipant(userID), nil
}

func (s *MessageStore) Has(conversationID uuid.UUID, messageID string) bool {
	_, ok := s.Message(conversationID, messageID)
	return ok
}

// LastMessage returns the last message or the empty sentinel.
func (s *MessageStore) LastMessage(conversationID uuid.UUID) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.Message{}
	}
	return conv.LastMessage().Clone()
}

func (s *MessageStore) Count(conversationID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[conversationID]; ok {
		return len(conv.Messages)
	}
	return 0
}

// InsertProvisional adds a locally-originated message with status sending.
func (s *MessageStore) InsertProvisional(conversationID uuid.UUID, msg domain.Message) error {
	if !msg.IsProvisional() {
		return ErrNotProvisional
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	msg = msg.Clone()
	msg.ConversationID = conversationID
	msg.Status = domain.StatusSending
	conv.Messages = insertOrdered(conv.Messages, msg)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeInserted, ConversationID: conversationID, MessageID: msg.ID})
	return nil
}

// Reconcile swaps a provisional entry for its confirmed counterpart, in
// place. Reactions and edits applied meanwhile are carried over. If the
// confirmed id is already present (the push echo won the race) the
// provisional entry is folded into it instead.
func (s *MessageStore) Reconcile(conversationID uuid.UUID, provisionalID string, confirmed domain.Message) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	pi := indexOf(conv.Messages, provisionalID)
	if pi < 0 {
		if !s.hiddenLocked(conversationID, provisionalID) {
			s.mu.Unlock()
			return ErrMessageNotFound
		}
		// Deleted while the write was in flight: the confirmed id inherits
		// the deletion, including an echo that already arrived.
		s.hideLocked(conversationID, confirmed.ID)
		ci := indexOf(conv.Messages, confirmed.ID)
		if ci >= 0 {
			conv.Messages = slices.Delete(conv.Messages, ci, ci+1)
		}
		s.mu.Unlock()

		if ci >= 0 {
			s.notify(Change{Kind: ChangeRemoved, ConversationID: conversationID, MessageID: confirmed.ID})
		}
		return ErrMessageHidden
	}
	provisional := conv.Messages[pi]

	merged := confirmed.Clone()
	merged.ConversationID = conversationID
	merged.Status = domain.StatusSent
	merged.Reactions = reaction.Merge(merged.Reactions, provisional.Reactions)
	if provisional.Edited {
		merged.Content = provisional.Content
		merged.Edited = true
	}
	if len(merged.Attachments) == 0 && len(provisional.Attachments) > 0 {
		merged.Attachments = append([]domain.Attachment(nil), provisional.Attachments...)
	}

	if ci := indexOf(conv.Messages, confirmed.ID); ci >= 0 {
		existing := conv.Messages[ci]
		existing.Reactions = reaction.Merge(existing.Reactions, provisional.Reactions)
		if provisional.Edited {
			existing.Content = provisional.Content
			existing.Edited = true
		}
		conv.Messages[ci] = existing
		conv.Messages = slices.Delete(conv.Messages, pi, pi+1)
	} else {
		conv.Messages[pi] = merged
		restoreOrder(conv.Messages)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReconciled, ConversationID: conversationID, MessageID: confirmed.ID, PreviousID: provisionalID})
	return nil
}

// MarkFailed moves a provisional message from sending to failed.
func (s *MessageStore) MarkFailed(conversationID uuid.UUID, provisionalID string) error {
	if err := s.advance(conversationID, provisionalID, domain.StatusFailed); err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeFailed, ConversationID: conversationID, MessageID: provisionalID})
	return nil
}

// Promote advances a message's status along the state machine.
func (s *MessageStore) Promote(conversationID uuid.UUID, messageID string, next domain.Status) error {
	if err := s.advance(conversationID, messageID, next); err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeStatus, ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (s *MessageStore) advance(conversationID uuid.UUID, messageID string, next domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookupLocked(conversationID, messageID)
	if err != nil {
		return err
	}
	status, err := msg.Status.Advance(next)
	if err != nil {
		return err
	}
	msg.Status = status
	return nil
}

// MergeIncoming inserts a confirmed message at its timestamp position. A
// message whose id is already present is ignored. Unknown conversations are
// created unhydrated.
func (s *MessageStore) MergeIncoming(conversationID uuid.UUID, msg domain.Message) MergeResult {
	var res MergeResult

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &domain.Conversation{ID: conversationID}
		s.conversations[conversationID] = conv
		res.ConversationCreated = true
	}
	if indexOf(conv.Messages, msg.ID) >= 0 || s.hiddenLocked(conversationID, msg.ID) {
		s.mu.Unlock()
		return res
	}
	msg = msg.Clone()
	msg.ConversationID = conversationID
	conv.Messages = insertOrdered(conv.Messages, msg)
	res.Inserted = true
	res.Latest = conv.LastMessage().ID == msg.ID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMerged, ConversationID: conversationID, MessageID: msg.ID})
	return res
}

// Edit replaces a message's content and flags it edited. Id, sender and
// position are unchanged.
func (s *MessageStore) Edit(conversationID uuid.UUID, messageID, content string) error {
	s.mu.Lock()
	msg, err := s.lookupLocked(conversationID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.Content = content
	msg.Edited = true
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdited, ConversationID: conversationID, MessageID: messageID})
	return nil
}

// Remove deletes a message from the local view only. The id stays hidden:
// later loads and pushes of it are ignored.
func (s *MessageStore) Remove(conversationID uuid.UUID, messageID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	i := indexOf(conv.Messages, messageID)
	if i < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	conv.Messages = slices.Delete(conv.Messages, i, i+1)
	s.hideLocked(conversationID, messageID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemoved, ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (s *MessageStore) ToggleReaction(conversationID uuid.UUID, messageID, emoji string, userID uuid.UUID) error {
	s.mu.Lock()
	msg, err := s.lookupLocked(conversationID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.Reactions = reaction.Toggle(msg.Reactions, emoji, userID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReaction, ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (s *MessageStore) conversationLocked(id uuid.UUID) *domain.Conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &domain.Conversation{ID: id}
		s.conversations[id] = conv
	}
	return conv
}

func (s *MessageStore) hideLocked(conversationID uuid.UUID, messageID string) {
	ids, ok := s.hidden[conversationID]
	if !ok {
		ids = make(map[string]struct{})
		s.hidden[conversationID] = ids
	}
	ids[messageID] = struct{}{}
}

func (s *MessageStore) hiddenLocked(conversationID uuid.UUID, messageID string) bool {
	_, ok := s.hidden[conversationID][messageID]
	return ok
}

func (s *MessageStore) lookupLocked(conversationID uuid.UUID, messageID string) (*domain.Message, error) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	i := indexOf(conv.Messages, messageID)
	if i < 0 {
		return nil, ErrMessageNotFound
	}
	return &conv.Messages[i], nil
}

func indexOf(messages []domain.Message, id string) int {
	return slices.IndexFunc(messages, func(m domain.Message) bool { return m.ID == id })
}

// insertOrdered places m after every message with an equal or earlier
// timestamp, so ties keep arrival order.
func insertOrdered(messages []domain.Message, m domain.Message) []domain.Message {
	i := sort.Search(len(messages), func(i int) bool {
		return messages[i].CreatedAt.After(m.CreatedAt)
	})
	return slices.Insert(messages, i, m)
}

func restoreOrder(messages []domain.Message) {
	slices.SortStableFunc(messages, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
