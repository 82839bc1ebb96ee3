// Package notify holds the sinks that receive new-message alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"go.uber.org/zap"
)

// Sink is the shape every notifier here satisfies.
type Sink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// LogNotifier records alerts in the structured log.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger.OrNop(log)}
}

func (n *LogNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.logger.Infow(note.Title,
		"description", note.Description,
		"conversation_id", note.ConversationID,
		"message_id", note.MessageID,
		"sender_id", note.SenderID,
	)
	return nil
}

// TerminalNotifier prints alerts as a single line, for the CLI.
type TerminalNotifier struct {
	out io.Writer
}

func NewTerminalNotifier(out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{out: out}
}

func (n *TerminalNotifier) Notify(_ context.Context, note domain.Notification) error {
	_, err := fmt.Fprintf(n.out, "\a🔔 %s: %s\n", note.Title, note.Description)
	return err
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, note domain.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
