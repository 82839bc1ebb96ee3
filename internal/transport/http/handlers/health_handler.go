package handlers

import (
	"context"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RelayStats is satisfied by *ws.Hub.
type RelayStats interface {
	ClientCount() int
}

type HealthHandler struct {
	db    Pinger
	relay RelayStats
}

func NewHealthHandler(db Pinger, relay RelayStats) *HealthHandler {
	return &HealthHandler{db: db, relay: relay}
}

// Health reports whether the relay can reach its database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database is not reachable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.relay.ClientCount(),
	})
}
