package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/repository"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	ErrWildcardSubscription = errors.New("relay subscriptions are per conversation")
	ErrSubscribeRejected    = errors.New("relay rejected subscription")
)

const (
	subscribeWait   = 10 * time.Second
	clientReadLimit = 1 << 20
)

// Dialer is a repository.Subscriber backed by the relay. Each subscription
// owns one websocket connection.
type Dialer struct {
	URL    string
	Token  string
	logger *zap.SugaredLogger
}

func NewDialer(relayURL, token string, log *zap.SugaredLogger) *Dialer {
	return &Dialer{URL: relayURL, Token: token, logger: logger.OrNop(log)}
}

func (d *Dialer) Subscribe(ctx context.Context, conversationID uuid.UUID, handler repository.EventHandler) (repository.Subscription, error) {
	if conversationID == uuid.Nil {
		return nil, ErrWildcardSubscription
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", d.Token)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, subscribeWait)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	conn.SetReadLimit(clientReadLimit)

	if err := d.handshake(dctx, conn, conversationID); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}

	subCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	sub := repository.NewStreamSubscription(stop)
	go d.readLoop(subCtx, conn, sub, conversationID, handler)

	return sub, nil
}

func (d *Dialer) handshake(ctx context.Context, conn *websocket.Conn, conversationID uuid.UUID) error {
	payload, err := json.Marshal(ConversationPayload{ConversationID: conversationID})
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, Event{Type: EventTypeConversationSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("sending subscribe: %w", err)
	}

	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			return fmt.Errorf("awaiting subscribe ack: %w", err)
		}
		switch evt.Type {
		case EventTypeSubscribed:
			return nil
		case EventTypeError:
			var p ErrorPayload
			_ = json.Unmarshal(evt.Payload, &p)
			return fmt.Errorf("%w: %s: %s", ErrSubscribeRejected, p.Code, p.Message)
		}
	}
}

func (d *Dialer) readLoop(ctx context.Context, conn *websocket.Conn, sub *repository.StreamSubscription, conversationID uuid.UUID, handler repository.EventHandler) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() != nil {
				sub.Finish(nil)
			} else {
				d.logger.Warnw("relay connection lost", "conversation_id", conversationID, "error", err)
				sub.Finish(err)
			}
			return
		}

		switch evt.Type {
		case EventTypeMessageNew:
			handler(ctx, evt.Payload)
		case EventTypeError:
			d.logger.Warnw("relay error", "conversation_id", conversationID, "payload", string(evt.Payload))
		}
	}
}
