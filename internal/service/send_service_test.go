package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/store"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

func TestSendOptimisticThenConfirmed(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{gate: make(chan struct{})}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)
	defer coord.Close()

	prov, err := coord.Send(context.Background(), SendInput{
		ConversationID: fx.conversation.ID,
		SenderID:       fx.alice.ID,
		Content:        "Hello",
	})
	require.NoError(t, err)
	assert.True(t, prov.IsProvisional())

	require.Equal(t, 1, fx.store.Count(fx.conversation.ID))
	got, ok := fx.store.Message(fx.conversation.ID, prov.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSending, got.Status)

	close(writer.gate)
	require.Eventually(t, func() bool {
		return !fx.store.Has(fx.conversation.ID, prov.ID)
	}, eventually, tick)

	msgs := fx.store.Messages(fx.conversation.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, writer.lastResult().ID, msgs[0].ID)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, fx.alice.ID, msgs[0].SenderID)
}

func TestSendSurvivesCallerCancellation(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{}
	coord := NewSendCoordinator(fx.store, writer, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.Send(ctx, SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "still goes"})
	require.NoError(t, err)
	coord.Close()

	require.Len(t, writer.ctxErrs, 1)
	assert.NoError(t, writer.ctxErrs[0])
	assert.Equal(t, domain.StatusSent, fx.store.LastMessage(fx.conversation.ID).Status)
}

func TestSendFailureThenRetry(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{err: errors.New("connection reset")}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)
	defer coord.Close()

	prov, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "flaky"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return statusOf(fx.store, fx.conversation.ID, prov.ID)() == domain.StatusFailed
	}, eventually, tick)

	writer.setErr(nil)
	retried, err := coord.Retry(context.Background(), fx.conversation.ID, prov.ID)
	require.NoError(t, err)
	assert.NotEqual(t, prov.ID, retried.ID)
	assert.True(t, retried.IsProvisional())
	assert.False(t, fx.store.Has(fx.conversation.ID, prov.ID))

	require.Eventually(t, func() bool {
		last := fx.store.LastMessage(fx.conversation.ID)
		return last.Status == domain.StatusSent && last.Content == "flaky"
	}, eventually, tick)
	assert.Equal(t, 1, fx.store.Count(fx.conversation.ID))
}

func TestRetryRejectsNonFailed(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{gate: make(chan struct{})}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)
	defer coord.Close()
	defer close(writer.gate)

	prov, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "pending"})
	require.NoError(t, err)

	_, err = coord.Retry(context.Background(), fx.conversation.ID, prov.ID)
	assert.ErrorIs(t, err, ErrNotFailed)

	_, err = coord.Retry(context.Background(), fx.conversation.ID, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestSendRejectsInvalidContent(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	defer coord.Close()

	_, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Zero(t, fx.store.Count(fx.conversation.ID))
}

func TestReconcileAgainstClosedConversationIsNoop(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{gate: make(chan struct{})}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)

	_, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "late"})
	require.NoError(t, err)

	fx.store.RemoveConversation(fx.conversation.ID)
	close(writer.gate)
	coord.Close()

	require.Len(t, writer.inputs, 1)
	_, ok := fx.store.Conversation(fx.conversation.ID)
	assert.False(t, ok)
}

func TestTimerAckPromotesToRead(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, TimerAck{DeliveredAfter: 10 * time.Millisecond, ReadAfter: 10 * time.Millisecond}, nil)
	defer coord.Close()

	_, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "ack me"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fx.store.LastMessage(fx.conversation.ID).Status == domain.StatusRead
	}, eventually, tick)
}

func TestEditConfirmedMessagePersists(t *testing.T) {
	fx := newFixture(t)
	updater := &fakeUpdater{}
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	coord.SetUpdater(updater)

	msg := domain.Message{ID: "4c1d7c55-0b1e-4a53-9f3c-2b1f3f0c9a11", SenderID: fx.alice.ID, Content: "typo", CreatedAt: base, Status: domain.StatusSent}
	other := domain.Message{ID: "9a4e0c2b-6c44-4a0a-8d5f-0f1b8f6f1e22", SenderID: fx.bob.ID, Content: "hi", CreatedAt: base.Add(time.Second), Status: domain.StatusSent}
	fx.store.Load(fx.conversation.ID, []domain.Message{msg, other})

	require.NoError(t, coord.Edit(context.Background(), fx.alice.ID, fx.conversation.ID, msg.ID, "fixed"))
	coord.Close()

	msgs := fx.store.Messages(fx.conversation.ID)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, fx.alice.ID, msgs[0].SenderID)
	assert.Equal(t, "fixed", msgs[0].Content)
	assert.True(t, msgs[0].Edited)
	assert.Equal(t, []update{{msg.ID, "fixed"}}, updater.snapshot())
}

func TestEditProvisionalPersistsAfterConfirmation(t *testing.T) {
	fx := newFixture(t)
	writer := &fakeWriter{gate: make(chan struct{})}
	updater := &fakeUpdater{}
	coord := NewSendCoordinator(fx.store, writer, NoAck{}, nil)
	coord.SetUpdater(updater)

	prov, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: fx.alice.ID, Content: "draft"})
	require.NoError(t, err)
	require.NoError(t, coord.Edit(context.Background(), fx.alice.ID, fx.conversation.ID, prov.ID, "final"))
	assert.Empty(t, updater.snapshot())

	close(writer.gate)
	coord.Close()

	confirmedID := writer.lastResult().ID
	assert.Equal(t, "draft", writer.inputs[0].Content)
	assert.Equal(t, []update{{confirmedID, "final"}}, updater.snapshot())
	assert.Equal(t, "final", fx.store.LastMessage(fx.conversation.ID).Content)
}

func TestEditAndDeleteRequireOwner(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	defer coord.Close()

	msg := domain.Message{ID: "0f8f5e0c-7d2a-4c59-b3c8-8a9b2b7d1c33", SenderID: fx.bob.ID, Content: "mine", CreatedAt: base, Status: domain.StatusSent}
	fx.store.Load(fx.conversation.ID, []domain.Message{msg})

	assert.ErrorIs(t, coord.Edit(context.Background(), fx.alice.ID, fx.conversation.ID, msg.ID, "yours"), ErrNotMessageOwner)
	assert.ErrorIs(t, coord.Delete(fx.alice.ID, fx.conversation.ID, msg.ID), ErrNotMessageOwner)
	assert.ErrorIs(t, coord.Edit(context.Background(), fx.bob.ID, fx.conversation.ID, msg.ID, ""), ErrInvalidMessage)
	assert.ErrorIs(t, coord.Delete(fx.bob.ID, fx.conversation.ID, "missing"), ErrMessageNotFound)
	assert.Equal(t, "mine", fx.store.LastMessage(fx.conversation.ID).Content)
}

func TestDeleteLastMessageRecomputesTail(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	defer coord.Close()

	first := domain.Message{ID: "1b0e8a8e-4d8e-4f0b-9c1a-0d5c3a1e2f44", SenderID: fx.alice.ID, Content: "one", CreatedAt: base, Status: domain.StatusSent}
	second := domain.Message{ID: "2c1f9b9f-5e9f-4a1c-8d2b-1e6d4b2f3a55", SenderID: fx.alice.ID, Content: "two", CreatedAt: base.Add(time.Second), Status: domain.StatusSent}
	fx.store.Load(fx.conversation.ID, []domain.Message{first, second})

	require.NoError(t, coord.Delete(fx.alice.ID, fx.conversation.ID, second.ID))
	assert.Equal(t, first.ID, fx.store.LastMessage(fx.conversation.ID).ID)

	require.NoError(t, coord.Delete(fx.alice.ID, fx.conversation.ID, first.ID))
	assert.True(t, fx.store.LastMessage(fx.conversation.ID).IsEmpty())
}

func TestToggleReactionFromTwoUsers(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	defer coord.Close()

	msg := domain.Message{ID: "3d2a0cae-6fa0-4b2d-9e3c-2f7e5c3a4b66", SenderID: fx.alice.ID, Content: "lunch?", CreatedAt: base, Status: domain.StatusSent}
	fx.store.Load(fx.conversation.ID, []domain.Message{msg})

	require.NoError(t, coord.ToggleReaction(fx.alice.ID, fx.conversation.ID, msg.ID, "👍"))
	require.NoError(t, coord.ToggleReaction(fx.bob.ID, fx.conversation.ID, msg.ID, "👍"))

	got, _ := fx.store.Message(fx.conversation.ID, msg.ID)
	assert.Len(t, got.Reactions["👍"], 2)

	require.NoError(t, coord.ToggleReaction(fx.alice.ID, fx.conversation.ID, msg.ID, "👍"))
	got, _ = fx.store.Message(fx.conversation.ID, msg.ID)
	assert.False(t, got.Reactions.Has("👍", fx.alice.ID))
	assert.True(t, got.Reactions.Has("👍", fx.bob.ID))

	assert.ErrorIs(t, coord.ToggleReaction(fx.alice.ID, fx.conversation.ID, msg.ID, ""), ErrInvalidMessage)
}

func TestSendAndReactRequireParticipant(t *testing.T) {
	fx := newFixture(t)
	coord := NewSendCoordinator(fx.store, &fakeWriter{}, NoAck{}, nil)
	defer coord.Close()
	outsider := uuid.New()

	_, err := coord.Send(context.Background(), SendInput{ConversationID: fx.conversation.ID, SenderID: outsider, Content: "let me in"})
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Zero(t, fx.store.Count(fx.conversation.ID))

	msg := domain.Message{ID: uuid.NewString(), SenderID: fx.bob.ID, Content: "hi", CreatedAt: base, Status: domain.StatusSent}
	fx.store.Load(fx.conversation.ID, []domain.Message{msg})
	assert.ErrorIs(t, coord.ToggleReaction(outsider, fx.conversation.ID, msg.ID, "👍"), ErrNotParticipant)

	_, err = coord.Send(context.Background(), SendInput{ConversationID: uuid.New(), SenderID: fx.alice.ID, Content: "nowhere"})
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}
