package ws

import (
	"net/http"

	"github.com/vedran77/mailbox/internal/auth"
	"nhooyr.io/websocket"
)

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := auth.ParseToken(tokenStr, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			hub.logger.Warnw("accept error", "error", err)
			return
		}

		client := NewClient(hub, conn, userID)
		if !hub.join(client) {
			conn.Close(websocket.StatusGoingAway, "relay shutting down")
			return
		}

		// r.Context() is cancelled once this handler returns.
		go client.WritePump(r.Context())
		client.ReadPump(r.Context())
	}
}
