package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pantry/internal/metrics"
)

// Broadcaster delivers a frame to every connection in a household except
// the one whose id equals excludeID.
type Broadcaster interface {
	Broadcast(ctx context.Context, homeID string, f Frame, excludeID string) error
}

// Hub is the connection registry: household id to its open connections.
// Sends never block on a slow peer; a peer whose buffer is full is dropped.
type Hub struct {
	mu      sync.RWMutex
	homes   map[string]map[*Client]struct{}
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Hub{
		homes:   make(map[string]map[*Client]struct{}),
		log:     log.Named("hub"),
		metrics: m,
	}
}

// Register adds c to its household. Registering twice is a no-op.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.homes[c.HomeID]
	if !ok {
		set = make(map[*Client]struct{})
		h.homes[c.HomeID] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	h.metrics.Connections.Inc()
	h.log.Debug("client registered",
		zap.String("conn", c.ID), zap.String("home", c.HomeID), zap.Int("home_size", len(set)))
}

// Unregister removes c and closes its send buffer. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.homes[c.HomeID]
	if ok {
		if _, ok = set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.homes, c.HomeID)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.Connections.Dec()
	c.closeSend()
	h.log.Debug("client unregistered", zap.String("conn", c.ID), zap.String("home", c.HomeID))
}

// Count returns the number of open connections for a household.
func (h *Hub) Count(homeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.homes[homeID])
}

func (h *Hub) Broadcast(_ context.Context, homeID string, f Frame, excludeID string) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	h.metrics.Frames.WithLabelValues(f.Type, "outbound").Inc()
	h.deliver(homeID, data, excludeID)
	return nil
}

// deliver fans pre-encoded bytes out to the local connections of a household.
func (h *Hub) deliver(homeID string, data []byte, excludeID string) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.homes[homeID] {
		if excludeID != "" && c.ID == excludeID {
			continue
		}
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow client", zap.String("conn", c.ID), zap.String("home", homeID))
		h.Unregister(c)
	}
}

// Send delivers a frame to a single connection.
func (h *Hub) Send(c *Client, f Frame) {
	data, err := f.Encode()
	if err != nil {
		h.log.Error("encode frame", zap.Error(err))
		return
	}
	h.metrics.Frames.WithLabelValues(f.Type, "outbound").Inc()
	if !c.trySend(data) {
		h.log.Warn("dropping slow client", zap.String("conn", c.ID))
		h.Unregister(c)
	}
}
