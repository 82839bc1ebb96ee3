package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/metrics"
	"github.com/vedran77/mailbox/internal/repository"
	"github.com/vedran77/mailbox/internal/store"
	"go.uber.org/zap"
)

var (
	ErrSubscriptionLost = errors.New("push subscription lost")
	ErrMalformedEvent   = domain.ErrMalformedEvent
)

// previewRunes bounds the notification description.
const previewRunes = 80

// Notifier receives recipient-facing alerts for foreign messages.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// IdentityLookup resolves a user id to display identity.
type IdentityLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Hydrator fills in a conversation first seen through a push event.
type Hydrator interface {
	Hydrate(ctx context.Context, conversationID uuid.UUID) error
}

// RealtimeIngestor merges pushed row-insert events into the store. At most
// one subscription is live at a time, bound to the active conversation.
type RealtimeIngestor struct {
	store       *store.MessageStore
	subscriber  repository.Subscriber
	identities  IdentityLookup
	notifier    Notifier
	currentUser uuid.UUID
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	hydrator Hydrator
	onLost   func(uuid.UUID, error)
	active   uuid.UUID
	sub      repository.Subscription
}

func NewRealtimeIngestor(
	st *store.MessageStore,
	subscriber repository.Subscriber,
	identities IdentityLookup,
	notifier Notifier,
	currentUserID uuid.UUID,
	log *zap.SugaredLogger,
) *RealtimeIngestor {
	return &RealtimeIngestor{
		store:       st,
		subscriber:  subscriber,
		identities:  identities,
		notifier:    notifier,
		currentUser: currentUserID,
		logger:      logger.OrNop(log),
	}
}

func (r *RealtimeIngestor) SetHydrator(h Hydrator) {
	r.mu.Lock()
	r.hydrator = h
	r.mu.Unlock()
}

// OnConnectionLost registers fn to be called when the active subscription
// breaks. There is no automatic resubscribe.
func (r *RealtimeIngestor) OnConnectionLost(fn func(conversationID uuid.UUID, err error)) {
	r.mu.Lock()
	r.onLost = fn
	r.mu.Unlock()
}

// Activate makes conversationID the subscribed conversation, tearing down
// any previous subscription first.
func (r *RealtimeIngestor) Activate(ctx context.Context, conversationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil && r.active == conversationID {
		return nil
	}
	r.teardownLocked()

	sub, err := r.subscriber.Subscribe(ctx, conversationID, func(ctx context.Context, payload []byte) {
		_ = r.OnInsertEvent(ctx, payload)
	})
	if err != nil {
		metrics.SubscriptionsLost.Inc()
		r.logger.Warnw("subscribe failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("%w: %w", ErrSubscriptionLost, err)
	}

	r.active = conversationID
	r.sub = sub
	go r.watch(conversationID, sub)
	return nil
}

func (r *RealtimeIngestor) watch(conversationID uuid.UUID, sub repository.Subscription) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}

	r.mu.Lock()
	current := r.sub == sub
	if current {
		r.sub = nil
		r.active = uuid.Nil
	}
	onLost := r.onLost
	r.mu.Unlock()

	if !current {
		return
	}
	metrics.SubscriptionsLost.Inc()
	r.logger.Warnw("connection lost", "conversation_id", conversationID, "error", err)
	if onLost != nil {
		onLost(conversationID, fmt.Errorf("%w: %w", ErrSubscriptionLost, err))
	}
}

// Active returns the subscribed conversation, or uuid.Nil.
func (r *RealtimeIngestor) Active() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *RealtimeIngestor) Deactivate() {
	r.mu.Lock()
	r.teardownLocked()
	r.mu.Unlock()
}

func (r *RealtimeIngestor) Close() {
	r.Deactivate()
}

func (r *RealtimeIngestor) teardownLocked() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.sub = nil
	r.active = uuid.Nil
}

// OnInsertEvent handles one raw row-insert payload. Duplicates are dropped
// silently; malformed payloads are logged and reported.
func (r *RealtimeIngestor) OnInsertEvent(ctx context.Context, raw []byte) error {
	msg, err := domain.ParseInsertEvent(raw)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeMalformed).Inc()
		r.logger.Warnw("dropping malformed event", "error", err)
		return err
	}

	if r.store.Has(msg.ConversationID, msg.ID) {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return nil
	}

	res := r.store.MergeIncoming(msg.ConversationID, msg)
	if !res.Inserted {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return nil
	}
	metrics.EventsIngested.WithLabelValues(metrics.OutcomeMerged).Inc()

	if res.ConversationCreated {
		r.hydrate(ctx, msg.ConversationID)
	}

	if msg.SenderID != r.currentUser {
		r.notify(ctx, msg)
	}
	return nil
}

func (r *RealtimeIngestor) hydrate(ctx context.Context, conversationID uuid.UUID) {
	r.mu.Lock()
	h := r.hydrator
	r.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.Hydrate(ctx, conversationID); err != nil {
		r.logger.Warnw("hydrating conversation failed", "conversation_id", conversationID, "error", err)
	}
}

func (r *RealtimeIngestor) notify(ctx context.Context, msg domain.Message) {
	if r.notifier == nil {
		return
	}

	n := domain.Notification{
		Title:          "New message",
		Description:    preview(msg),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
	}

	if r.identities != nil {
		sender, err := r.identities.GetByID(ctx, msg.SenderID)
		switch {
		case err != nil:
			r.logger.Debugw("sender lookup failed", "sender_id", msg.SenderID, "error", err)
		case sender != nil:
			n.Title = "New message from " + sender.Label()
			n.AvatarURL = sender.AvatarURL
		}
	}

	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warnw("notification failed", "message_id", msg.ID, "error", err)
	}
}

func preview(msg domain.Message) string {
	if msg.Content == "" && len(msg.Attachments) > 0 {
		return attachmentPreview
	}
	if utf8.RuneCountInString(msg.Content) <= previewRunes {
		return msg.Content
	}
	runes := []rune(msg.Content)
	return string(runes[:previewRunes]) + "…"
}
