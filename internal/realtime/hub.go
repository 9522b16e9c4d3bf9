package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/metrics"
	"github.com/bilgisen/contentgen/internal/models"
)

// ErrHubClosed is returned when registering on a hub that was shut down.
var ErrHubClosed = errors.New("hub closed")

// Notifier delivers a content event to every open connection of one user.
type Notifier interface {
	Notify(ctx context.Context, userID string, event models.ContentEvent) error
}

// Frame is the wire shape of every message pushed to a browser.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub is the registry of open connections grouped by user id.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	closed bool
	log    zerolog.Logger
}

var _ Notifier = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		log:    log.With().Str("component", "hub").Logger(),
	}
}

// Register adds c to its user's group.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	group, ok := h.groups[c.userID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[c.userID] = group
	}
	group[c] = struct{}{}
	metrics.ActiveConnections.Inc()

	h.log.Debug().Str("user_id", c.userID).Int("connections", len(group)).Msg("client registered")
	return nil
}

// Unregister removes c and closes its send channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[c.userID]
	if !ok {
		return
	}
	if _, ok := group[c]; !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, c.userID)
	}
	c.closeSend()
	metrics.ActiveConnections.Dec()

	h.log.Debug().Str("user_id", c.userID).Msg("client unregistered")
}

// Notify pushes a content-generated frame to userID. Without open connections the
// event is dropped.
func (h *Hub) Notify(ctx context.Context, userID string, event models.ContentEvent) error {
	frame, err := json.Marshal(Frame{Event: models.EventContentGenerated, Data: event})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	h.Broadcast(userID, frame)
	return nil
}

// Broadcast writes frame to every connection of userID without blocking and
// returns how many connections accepted it.
func (h *Hub) Broadcast(userID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	group := h.groups[userID]
	if len(group) == 0 {
		metrics.Notifications.WithLabelValues("no_listeners").Inc()
		h.log.Debug().Str("user_id", userID).Msg("no open connections, event dropped")
		return 0
	}

	delivered := 0
	for c := range group {
		select {
		case c.send <- frame:
			delivered++
			metrics.Notifications.WithLabelValues("delivered").Inc()
		default:
			metrics.Notifications.WithLabelValues("dropped").Inc()
			h.log.Warn().Str("user_id", userID).Msg("send buffer full, frame dropped")
		}
	}
	return delivered
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

// Close disconnects every client and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for userID, group := range h.groups {
		for c := range group {
			c.closeSend()
			metrics.ActiveConnections.Dec()
		}
		delete(h.groups, userID)
	}
	h.log.Info().Msg("hub closed")
}
