package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/metrics"
	"go.uber.org/zap"
)

// AccessChecker decides whether a user may follow a conversation.
type AccessChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// Hub manages all active WebSocket clients and fans insert events out to the
// clients subscribed to each conversation.
type Hub struct {
	access AccessChecker
	logger *zap.SugaredLogger

	// mu guards clients for readers outside Run; Run is the only writer.
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	done       chan struct{}
}

type broadcastMsg struct {
	conversationID uuid.UUID
	data           []byte
}

func NewHub(access AccessChecker, log *zap.SugaredLogger) *Hub {
	return &Hub{
		access:     access,
		logger:     logger.OrNop(log),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine; it returns
// when ctx is done, after disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.RelayConnections.Inc()
			h.logger.Infow("client connected", "user_id", client.userID, "total", total)

		case client := <-h.unregister:
			if h.drop(client) {
				h.logger.Infow("client disconnected", "user_id", client.userID)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.IsSubscribed(msg.conversationID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				// Client buffer full - disconnect
				h.drop(client)
				h.logger.Warnw("dropping slow client", "user_id", client.userID)
			}

		case <-ctx.Done():
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()
			for _, client := range clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) drop(client *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		close(client.done)
		metrics.RelayConnections.Dec()
	}
	return ok
}

// PublishInsert fans a raw row-insert payload out to the conversation's
// subscribers. It has the repository.EventHandler signature so it can be
// handed straight to a Subscriber.
func (h *Hub) PublishInsert(_ context.Context, payload []byte) {
	msg, err := domain.ParseInsertEvent(payload)
	if err != nil {
		h.logger.Warnw("skipping malformed insert notification", "error", err)
		return
	}

	evt, err := NewEvent(EventTypeMessageNew, &msg.ConversationID, json.RawMessage(payload))
	if err != nil {
		h.logger.Errorw("building message event failed", "error", err)
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Errorw("marshal error", "error", err)
		return
	}

	select {
	case h.broadcast <- &broadcastMsg{conversationID: msg.ConversationID, data: data}:
		metrics.RelayBroadcasts.Inc()
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns how many clients follow conversationID.
func (h *Hub) SubscriberCount(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.clients {
		if client.IsSubscribed(conversationID) {
			n++
		}
	}
	return n
}

func (h *Hub) authorize(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	if h.access == nil {
		return true, nil
	}
	return h.access.IsParticipant(ctx, conversationID, userID)
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
