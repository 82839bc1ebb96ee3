package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/mailbox/internal/domain"
)

type hydrateRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (h *hydrateRecorder) Hydrate(_ context.Context, id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, id)
	return nil
}

func newIngestor(t *testing.T, fx fixture) (*RealtimeIngestor, *fakeSubscriber, *fakeNotifier) {
	t.Helper()
	sub := &fakeSubscriber{}
	notifier := &fakeNotifier{}
	users := fakeUsers{fx.alice.ID: fx.alice, fx.bob.ID: fx.bob}
	ing := NewRealtimeIngestor(fx.store, sub, users, notifier, fx.alice.ID, nil)
	t.Cleanup(ing.Close)
	return ing, sub, notifier
}

func TestForeignMessageIsMergedAndNotifiedOnce(t *testing.T) {
	fx := newFixture(t)
	ing, sub, notifier := newIngestor(t, fx)
	require.NoError(t, ing.Activate(context.Background(), fx.conversation.ID))

	id := uuid.New()
	sub.emit(insertPayload(t, id, fx.conversation.ID, fx.bob.ID, "Are you in today?", base))

	require.Equal(t, 1, fx.store.Count(fx.conversation.ID))
	got, ok := fx.store.Message(fx.conversation.ID, id.String())
	require.True(t, ok)
	assert.Equal(t, domain.StatusSent, got.Status)

	sent := notifier.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "New message from Bob Brown", sent[0].Title)
	assert.Equal(t, "Are you in today?", sent[0].Description)
	assert.Equal(t, id.String(), sent[0].MessageID)

	sub.emit(insertPayload(t, id, fx.conversation.ID, fx.bob.ID, "Are you in today?", base))
	assert.Equal(t, 1, fx.store.Count(fx.conversation.ID))
	assert.Len(t, notifier.snapshot(), 1)
}

func TestOwnEchoIsDeduplicated(t *testing.T) {
	fx := newFixture(t)
	ing, _, notifier := newIngestor(t, fx)
	writer := &fakeWriter{}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)

	_, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "mine"})
	require.NoError(t, err)
	coord.Close()

	res := writer.lastResult()
	echo := insertPayload(t, uuid.MustParse(res.ID), fx.conversation.ID, fx.alice.ID, "mine", res.CreatedAt)
	require.NoError(t, ing.OnInsertEvent(context.Background(), echo))

	assert.Equal(t, 1, fx.store.Count(fx.conversation.ID))
	assert.Empty(t, notifier.snapshot())
}

func TestOutOfOrderEventsStaySorted(t *testing.T) {
	fx := newFixture(t)
	ing, _, _ := newIngestor(t, fx)

	for _, offset := range []time.Duration{3, 1, 2} {
		raw := insertPayload(t, uuid.New(), fx.conversation.ID, fx.bob.ID, "m", base.Add(offset*time.Second))
		require.NoError(t, ing.OnInsertEvent(context.Background(), raw))
	}

	msgs := fx.store.Messages(fx.conversation.ID)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestMalformedEventIsDropped(t *testing.T) {
	fx := newFixture(t)
	ing, _, notifier := newIngestor(t, fx)

	err := ing.OnInsertEvent(context.Background(), []byte(`{"id":`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = ing.OnInsertEvent(context.Background(), []byte(`{"id":"`+uuid.NewString()+`"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	assert.Zero(t, fx.store.Count(fx.conversation.ID))
	assert.Empty(t, notifier.snapshot())
}

func TestUnknownConversationIsHydrated(t *testing.T) {
	fx := newFixture(t)
	ing, _, notifier := newIngestor(t, fx)
	h := &hydrateRecorder{}
	ing.SetHydrator(h)

	convID := uuid.New()
	require.NoError(t, ing.OnInsertEvent(context.Background(), insertPayload(t, uuid.New(), convID, fx.bob.ID, "new thread", base)))

	assert.Equal(t, []uuid.UUID{convID}, h.ids)
	assert.Equal(t, 1, fx.store.Count(convID))
	assert.Len(t, notifier.snapshot(), 1)
}

func TestActivateTearsDownPreviousSubscription(t *testing.T) {
	fx := newFixture(t)
	ing, sub, _ := newIngestor(t, fx)

	other := uuid.New()
	require.NoError(t, ing.Activate(context.Background(), fx.conversation.ID))
	first := sub.last(t)
	require.NoError(t, ing.Activate(context.Background(), fx.conversation.ID))
	assert.Same(t, first, sub.last(t))

	require.NoError(t, ing.Activate(context.Background(), other))
	second := sub.last(t)
	assert.NotSame(t, first, second)
	assert.Equal(t, other, ing.Active())

	select {
	case <-first.Done():
	case <-time.After(eventually):
		t.Fatal("previous subscription still live")
	}
	assert.NoError(t, first.Err())

	ing.Deactivate()
	<-second.Done()
	assert.Equal(t, uuid.Nil, ing.Active())
}

func TestConnectionLostIsSignalled(t *testing.T) {
	fx := newFixture(t)
	ing, sub, _ := newIngestor(t, fx)

	lost := make(chan error, 1)
	ing.OnConnectionLost(func(id uuid.UUID, err error) {
		assert.Equal(t, fx.conversation.ID, id)
		lost <- err
	})
	require.NoError(t, ing.Activate(context.Background(), fx.conversation.ID))

	sub.last(t).Finish(errors.New("socket closed"))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrSubscriptionLost)
	case <-time.After(eventually):
		t.Fatal("connection loss not signalled")
	}
	assert.Eventually(t, func() bool { return ing.Active() == uuid.Nil }, eventually, tick)
}

func TestActivateReportsSubscribeFailure(t *testing.T) {
	fx := newFixture(t)
	ing, sub, _ := newIngestor(t, fx)
	sub.err = errors.New("relay unavailable")

	err := ing.Activate(context.Background(), fx.conversation.ID)
	assert.ErrorIs(t, err, ErrSubscriptionLost)
	assert.Equal(t, uuid.Nil, ing.Active())
}

func TestNotificationPreviewIsTruncated(t *testing.T) {
	long := make([]rune, previewRunes+10)
	for i := range long {
		long[i] = 'é'
	}
	got := preview(domain.Message{Content: string(long)})
	assert.Equal(t, previewRunes+1, len([]rune(got)))

	assert.Equal(t, attachmentPreview, preview(domain.Message{Attachments: []domain.Attachment{{Name: "payslip.pdf"}}}))
}

func TestDeletedInFlightMessageStaysHiddenWhenEchoed(t *testing.T) {
	fx := newFixture(t)
	ing, _, _ := newIngestor(t, fx)
	writer := &fakeWriter{gate: make(chan struct{})}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)

	prov, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "oops"})
	require.NoError(t, err)
	require.NoError(t, coord.Delete(fx.alice.ID, fx.conversation.ID, prov.ID))

	close(writer.gate)
	coord.Close()

	confirmedID := uuid.MustParse(writer.lastResult().ID)
	echo := insertPayload(t, confirmedID, fx.conversation.ID, fx.alice.ID, "oops", writer.lastResult().CreatedAt)
	require.NoError(t, ing.OnInsertEvent(context.Background(), echo))

	assert.Zero(t, fx.store.Count(fx.conversation.ID))
	assert.True(t, fx.store.LastMessage(fx.conversation.ID).IsEmpty())
}

func TestDeletedConfirmedMessageIgnoresLateEcho(t *testing.T) {
	fx := newFixture(t)
	ing, _, notifier := newIngestor(t, fx)

	id := uuid.New()
	fx.store.Load(fx.conversation.ID, []domain.Message{{ID: id.String(), SenderID: fx.bob.ID, Content: "hidden", CreatedAt: base, Status: domain.StatusSent}})
	require.NoError(t, fx.store.Remove(fx.conversation.ID, id.String()))

	require.NoError(t, ing.OnInsertEvent(context.Background(), insertPayload(t, id, fx.conversation.ID, fx.bob.ID, "hidden", base)))
	assert.Zero(t, fx.store.Count(fx.conversation.ID))
	assert.Empty(t, notifier.snapshot())

	fx.store.Load(fx.conversation.ID, []domain.Message{{ID: id.String(), SenderID: fx.bob.ID, Content: "hidden", CreatedAt: base, Status: domain.StatusSent}})
	assert.Zero(t, fx.store.Count(fx.conversation.ID))
}
