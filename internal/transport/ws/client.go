package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	authorizeWait  = 5 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256

	// inbound control events per second, per connection
	eventsPerSecond = 20
)

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	logger *zap.SugaredLogger

	limiter *rate.Limiter

	// conversations tracks which conversations this client listens to.
	conversations map[uuid.UUID]struct{}
	mu            sync.RWMutex

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		logger:        hub.logger.With("user_id", userID),
		limiter:       rate.NewLimiter(rate.Limit(eventsPerSecond), eventsPerSecond),
		conversations: make(map[uuid.UUID]struct{}),
		send:          make(chan []byte, sendBufSize),
		done:          make(chan struct{}),
	}
}

// IsSubscribed checks if this client is subscribed to a conversation.
func (c *Client) IsSubscribed(conversationID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.conversations[conversationID]
	return ok
}

func (c *Client) Subscribe(conversationID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conversationID] = struct{}{}
}

func (c *Client) Unsubscribe(conversationID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, conversationID)
}

// ReadPump reads events from the WebSocket and handles them until the
// connection fails or the hub drops the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debugw("client closed connection")
			} else {
				c.logger.Debugw("read error", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError(ErrCodeRateLimited, "too many events")
			continue
		}
		c.handleEvent(ctx, &event)
	}
}

// WritePump writes queued events to the WebSocket and keeps it alive.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Debugw("write error", "error", err)
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debugw("ping error", "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeConversationSubscribe:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == uuid.Nil {
			c.sendError(ErrCodeInvalidPayload, "invalid conversation.subscribe payload")
			return
		}

		actx, cancel := context.WithTimeout(ctx, authorizeWait)
		ok, err := c.hub.authorize(actx, p.ConversationID, c.userID)
		cancel()
		if err != nil {
			c.logger.Errorw("participant check failed", "conversation_id", p.ConversationID, "error", err)
			c.sendError(ErrCodeInternal, "could not verify access")
			return
		}
		if !ok {
			c.sendError(ErrCodeForbidden, "not a participant of this conversation")
			return
		}

		c.Subscribe(p.ConversationID)
		c.enqueue(EventTypeSubscribed, &p.ConversationID, nil)
		c.logger.Debugw("subscribed", "conversation_id", p.ConversationID)

	case EventTypeConversationUnsubscribe:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError(ErrCodeInvalidPayload, "invalid conversation.unsubscribe payload")
			return
		}
		c.Unsubscribe(p.ConversationID)
		c.logger.Debugw("unsubscribed", "conversation_id", p.ConversationID)

	case EventTypePing:
		c.enqueue(EventTypePong, nil, nil)

	default:
		c.sendError(ErrCodeUnknownEvent, "unknown event type: "+event.Type)
	}
}

func (c *Client) sendError(code, message string) {
	c.enqueue(EventTypeError, nil, ErrorPayload{Code: code, Message: message})
}

func (c *Client) enqueue(eventType string, conversationID *uuid.UUID, payload any) {
	evt, err := NewEvent(eventType, conversationID, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
