package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/metrics"
	"github.com/vedran77/mailbox/internal/repository"
	"github.com/vedran77/mailbox/internal/store"
	"github.com/vedran77/mailbox/pkg/validator"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrWriteFailed     = errors.New("message write failed")
	ErrNotFailed       = errors.New("only failed messages can be retried")
	ErrNotMessageOwner = errors.New("only the message sender can perform this action")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("user is not a participant of this conversation")
)

type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	Attachments    []domain.Attachment
}

// SendCoordinator runs the optimistic-send protocol: a provisional message
// is shown at once, written in the background and reconciled with the
// backend's answer. Writes are detached from the caller's context so a
// closed view never abandons a send.
type SendCoordinator struct {
	store   *store.MessageStore
	writer  repository.MessageWriter
	updater repository.MessageUpdater
	acks    AckSource
	logger  *zap.SugaredLogger
	now     func() time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSendCoordinator(st *store.MessageStore, writer repository.MessageWriter, acks AckSource, log *zap.SugaredLogger) *SendCoordinator {
	if acks == nil {
		acks = NoAck{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SendCoordinator{
		store:  st,
		writer: writer,
		acks:   acks,
		logger: logger.OrNop(log),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetUpdater enables persisting edits of confirmed messages (optional dependency).
func (c *SendCoordinator) SetUpdater(u repository.MessageUpdater) {
	c.updater = u
}

// Send inserts a provisional message and starts the backend write. The
// returned message is the provisional one.
func (c *SendCoordinator) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	if errs := validator.ValidateMessage(in.Content, validatorAttachments(in.Attachments)); errs.HasErrors() {
		return domain.Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, errs)
	}
	if err := c.checkParticipant(in.SenderID, in.ConversationID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:             domain.NewProvisionalID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachments:    in.Attachments,
		CreatedAt:      c.now(),
		Status:         domain.StatusSending,
	}
	if err := c.store.InsertProvisional(in.ConversationID, msg); err != nil {
		return domain.Message{}, err
	}
	metrics.MessagesSent.Inc()

	c.wg.Add(1)
	go c.deliver(context.WithoutCancel(ctx), msg)

	return msg, nil
}

func (c *SendCoordinator) deliver(ctx context.Context, provisional domain.Message) {
	defer c.wg.Done()

	createdAt := provisional.CreatedAt
	res, err := c.writer.WriteMessage(ctx, repository.WriteInput{
		ConversationID: provisional.ConversationID,
		SenderID:       provisional.SenderID,
		Content:        provisional.Content,
		Attachments:    provisional.Attachments,
		CreatedAt:      &createdAt,
	})
	if err != nil {
		metrics.SendFailures.Inc()
		c.logger.Warnw("send failed",
			"conversation_id", provisional.ConversationID,
			"message_id", provisional.ID,
			"error", fmt.Errorf("%w: %w", ErrWriteFailed, err),
		)
		if err := c.store.MarkFailed(provisional.ConversationID, provisional.ID); err != nil {
			c.logger.Debugw("could not mark message failed", "message_id", provisional.ID, "error", err)
		}
		return
	}

	confirmed := provisional
	confirmed.ID = res.ID
	confirmed.CreatedAt = res.CreatedAt
	confirmed.Status = domain.StatusSent

	if err := c.store.Reconcile(provisional.ConversationID, provisional.ID, confirmed); err != nil {
		// The conversation was closed or the message hidden meanwhile.
		c.logger.Debugw("reconcile skipped",
			"conversation_id", provisional.ConversationID,
			"message_id", provisional.ID,
			"error", err,
		)
		return
	}

	if cur, ok := c.store.Message(confirmed.ConversationID, confirmed.ID); ok && cur.Edited && cur.Content != provisional.Content {
		c.persistEdit(ctx, confirmed.ID, cur.Content)
	}

	c.acks.Track(c.ctx, confirmed, func(next domain.Status) {
		if err := c.store.Promote(confirmed.ConversationID, confirmed.ID, next); err != nil {
			c.logger.Debugw("status promotion skipped", "message_id", confirmed.ID, "status", next, "error", err)
		}
	})
}

// Retry drops a failed message and sends its content again under a fresh
// provisional id.
func (c *SendCoordinator) Retry(ctx context.Context, conversationID uuid.UUID, messageID string) (domain.Message, error) {
	failed, ok := c.store.Message(conversationID, messageID)
	if !ok {
		return domain.Message{}, ErrMessageNotFound
	}
	if failed.Status != domain.StatusFailed {
		return domain.Message{}, ErrNotFailed
	}
	if err := c.store.Remove(conversationID, messageID); err != nil {
		return domain.Message{}, err
	}

	return c.Send(ctx, SendInput{
		ConversationID: conversationID,
		SenderID:       failed.SenderID,
		Content:        failed.Content,
		Attachments:    failed.Attachments,
	})
}

// Edit changes a message locally and, once it is confirmed, persists the
// change in the background.
func (c *SendCoordinator) Edit(ctx context.Context, userID, conversationID uuid.UUID, messageID, content string) error {
	if err := c.checkOwner(userID, conversationID, messageID); err != nil {
		return err
	}
	if errs := validator.ValidateMessage(content, nil); errs.HasErrors() {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, errs)
	}
	if err := c.store.Edit(conversationID, messageID, content); err != nil {
		return err
	}

	// Provisional edits ride along with reconciliation.
	if domain.IsProvisionalID(messageID) {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.persistEdit(context.WithoutCancel(ctx), messageID, content)
	}()
	return nil
}

func (c *SendCoordinator) persistEdit(ctx context.Context, messageID, content string) {
	if c.updater == nil {
		return
	}
	if err := c.updater.UpdateMessage(ctx, messageID, content); err != nil {
		c.logger.Warnw("persisting edit failed", "message_id", messageID, "error", err)
	}
}

// Delete hides a message from the local view. Nothing is sent to the
// backend; other participants keep seeing it.
func (c *SendCoordinator) Delete(userID, conversationID uuid.UUID, messageID string) error {
	if err := c.checkOwner(userID, conversationID, messageID); err != nil {
		return err
	}
	return c.store.Remove(conversationID, messageID)
}

func (c *SendCoordinator) ToggleReaction(userID, conversationID uuid.UUID, messageID, emoji string) error {
	if errs := validator.ValidateEmoji(emoji); errs.HasErrors() {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, errs)
	}
	if err := c.checkParticipant(userID, conversationID); err != nil {
		return err
	}
	return c.store.ToggleReaction(conversationID, messageID, emoji, userID)
}

// Close waits for in-flight writes and stops pending status promotions.
func (c *SendCoordinator) Close() {
	c.wg.Wait()
	c.cancel()
}

func (c *SendCoordinator) checkOwner(userID, conversationID uuid.UUID, messageID string) error {
	msg, ok := c.store.Message(conversationID, messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return ErrNotMessageOwner
	}
	return nil
}

func (c *SendCoordinator) checkParticipant(userID, conversationID uuid.UUID) error {
	ok, err := c.store.IsParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func validatorAttachments(attachments []domain.Attachment) []validator.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]validator.Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = validator.Attachment{Name: a.Name, URL: a.URL}
	}
	return out
}
