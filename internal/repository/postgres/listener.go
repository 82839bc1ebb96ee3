package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/repository"
	"go.uber.org/zap"
)

// InsertChannel is the NOTIFY channel the dm_messages insert trigger uses.
const InsertChannel = "dm_messages_insert"

// listenConn is the part of a pooled connection a subscription uses.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	IsClosed() bool
	Release()
}

type poolConn struct {
	conn *pgxpool.Conn
}

func (c poolConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.Conn().WaitForNotification(ctx)
}

func (c poolConn) IsClosed() bool {
	return c.conn.Conn().IsClosed()
}

func (c poolConn) Release() {
	c.conn.Release()
}

// Listener turns Postgres NOTIFY payloads into a repository.Subscriber.
// Each subscription holds one pooled connection for its lifetime.
type Listener struct {
	acquire func(ctx context.Context) (listenConn, error)
	channel string
	logger  *zap.SugaredLogger
}

// NewListener listens on channel, or InsertChannel when it is empty.
func NewListener(pool *pgxpool.Pool, channel string, log *zap.SugaredLogger) *Listener {
	if channel == "" {
		channel = InsertChannel
	}
	acquire := func(ctx context.Context) (listenConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolConn{conn}, nil
	}
	return &Listener{acquire: acquire, channel: channel, logger: logger.OrNop(log)}
}

func (l *Listener) Subscribe(ctx context.Context, conversationID uuid.UUID, handler repository.EventHandler) (repository.Subscription, error) {
	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", l.channel, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := repository.NewStreamSubscription(cancel)

	go func() {
		defer func() {
			// A wait interrupted by cancellation leaves the connection
			// unusable; the pool discards closed connections on release.
			if !conn.IsClosed() {
				_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			}
			conn.Release()
		}()

		for {
			n, err := conn.WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					sub.Finish(nil)
				} else {
					l.logger.Warnw("listen connection lost", "channel", l.channel, "error", err)
					sub.Finish(err)
				}
				return
			}
			payload := []byte(n.Payload)
			if !MatchesConversation(payload, conversationID) {
				continue
			}
			handler(subCtx, payload)
		}
	}()

	return sub, nil
}

// MatchesConversation reports whether a row payload belongs to
// conversationID. uuid.Nil matches everything; undecodable payloads are
// passed through so the ingestor can count them as malformed.
func MatchesConversation(payload []byte, conversationID uuid.UUID) bool {
	if conversationID == uuid.Nil {
		return true
	}
	var row struct {
		ConversationID uuid.UUID `json:"conversation_id"`
	}
	if err := json.Unmarshal(payload, &row); err != nil {
		return true
	}
	return row.ConversationID == conversationID
}
