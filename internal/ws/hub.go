package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// statusEvent is the wire envelope for bot lifecycle updates.
type statusEvent struct {
	Type       string    `json:"type"`
	BotID      string    `json:"bot_id"`
	Status     string    `json:"status"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	At         time.Time `json:"at"`
}

// Hub fans bot status updates out to the owner's connected clients.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[Subscriber]struct{}
	log     *slog.Logger
}

// NewHub creates an initialized Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[Subscriber]struct{}),
		log:     logger,
	}
}

// Register adds a client to an owner's stream.
func (h *Hub) Register(ownerID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ownerID]; !ok {
		h.clients[ownerID] = make(map[Subscriber]struct{})
	}
	h.clients[ownerID][client] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(ownerID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[ownerID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, ownerID)
	}
}

// BroadcastStatus delivers a lifecycle update to every client of the
// bot's owner. Clients whose send fails are dropped.
func (h *Hub) BroadcastStatus(ownerID string, update domain.BotStatusUpdate) {
	payload, err := json.Marshal(statusEvent{
		Type:       "bot_status",
		BotID:      update.BotID,
		Status:     update.Status,
		Endpoint:   update.Endpoint,
		Diagnostic: update.Diagnostic,
		At:         time.Now().UTC(),
	})
	if err != nil {
		h.log.Warn("status event marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[ownerID]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, ownerID)
	}
}
