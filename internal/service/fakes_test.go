package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/repository"
	"github.com/vedran77/mailbox/internal/store"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeWriter struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	inputs  []repository.WriteInput
	results []repository.WriteResult
	ctxErrs []error
}

func (w *fakeWriter) WriteMessage(ctx context.Context, in repository.WriteInput) (*repository.WriteResult, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inputs = append(w.inputs, in)
	w.ctxErrs = append(w.ctxErrs, ctx.Err())
	if w.err != nil {
		return nil, w.err
	}
	res := repository.WriteResult{ID: uuid.NewString(), CreatedAt: in.CreatedAt.Add(time.Millisecond)}
	w.results = append(w.results, res)
	return &res, nil
}

func (w *fakeWriter) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (w *fakeWriter) lastResult() repository.WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results[len(w.results)-1]
}

type update struct {
	id, content string
}

type fakeUpdater struct {
	mu      sync.Mutex
	updates []update
}

func (u *fakeUpdater) UpdateMessage(_ context.Context, id, content string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, update{id, content})
	return nil
}

func (u *fakeUpdater) snapshot() []update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]update(nil), u.updates...)
}

type fakeSubscription struct {
	*repository.StreamSubscription
	conversationID uuid.UUID
	handler        repository.EventHandler
}

type fakeSubscriber struct {
	mu   sync.Mutex
	err  error
	subs []*fakeSubscription
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, conversationID uuid.UUID, handler repository.EventHandler) (repository.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &fakeSubscription{
		StreamSubscription: repository.NewStreamSubscription(cancel),
		conversationID:     conversationID,
		handler:            handler,
	}
	go func() {
		<-subCtx.Done()
		sub.Finish(nil)
	}()
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSubscriber) last(t *testing.T) *fakeSubscription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.subs)
	return s.subs[len(s.subs)-1]
}

// emit delivers payload to every live subscription.
func (s *fakeSubscriber) emit(payload []byte) {
	s.mu.Lock()
	subs := append([]*fakeSubscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.Done():
			continue
		default:
		}
		sub.handler(context.Background(), payload)
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) snapshot() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

type fakeUsers map[uuid.UUID]*domain.User

func (u fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	return u[id], nil
}

type fakeConversations struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*domain.Conversation
	listed   []domain.ConversationSummary
	created  []*domain.Conversation
	messages map[uuid.UUID][]domain.Message
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		convs:    make(map[uuid.UUID]*domain.Conversation),
		messages: make(map[uuid.UUID][]domain.Message),
	}
}

func (f *fakeConversations) ListConversations(context.Context, uuid.UUID) ([]domain.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed, nil
}

func (f *fakeConversations) GetConversation(_ context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok || !conv.HasParticipant(userID) {
		return nil, nil
	}
	out := *conv
	return &out, nil
}

func (f *fakeConversations) GetConversationByUsers(_ context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.User1ID == user1ID && conv.User2ID == user2ID {
			out := *conv
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeConversations) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *conv
	f.convs[conv.ID] = &stored
	f.created = append(f.created, conv)
	return nil
}

func (f *fakeConversations) IsParticipant(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	return ok && conv.HasParticipant(userID), nil
}

func (f *fakeConversations) ListMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

type fixture struct {
	store        *store.MessageStore
	conversation domain.Conversation
	alice, bob   *domain.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	alice := &domain.User{ID: uuid.New(), Username: "alice", DisplayName: "Alice Adams"}
	bob := &domain.User{ID: uuid.New(), Username: "bob", DisplayName: "Bob Brown"}
	u1, u2 := domain.CanonicalPair(alice.ID, bob.ID)
	conv := domain.Conversation{
		ID:                   uuid.New(),
		User1ID:              u1,
		User2ID:              u2,
		CreatedAt:            base,
		OtherUserID:          bob.ID,
		OtherUserUsername:    bob.Username,
		OtherUserDisplayName: bob.DisplayName,
	}
	st := store.New()
	st.Upsert(conv)
	return fixture{store: st, conversation: conv, alice: alice, bob: bob}
}

func insertPayload(t *testing.T, id, conversationID, senderID uuid.UUID, content string, at time.Time) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.InsertEvent{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	})
	require.NoError(t, err)
	return raw
}

func statusOf(st *store.MessageStore, conversationID uuid.UUID, messageID string) func() domain.Status {
	return func() domain.Status {
		msg, ok := st.Message(conversationID, messageID)
		if !ok {
			return domain.Status(255)
		}
		return msg.Status
	}
}
