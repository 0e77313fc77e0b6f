package changefeed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrHubClosed is returned once the hub has shut down.
var ErrHubClosed = errors.New("changefeed: hub closed")

// Subscription is a handle on a per-table event stream.
type Subscription struct {
	id     uint64
	table  string
	events chan Event
	hub    *Hub
	once   sync.Once
}

// Events yields events in delivery order. The channel closes on Close or when the subscriber falls behind.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Table reports the subscribed table.
func (s *Subscription) Table() string {
	return s.table
}

// Close releases the subscription. Calling it more than once is a no-op.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans change events out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *zap.Logger
}

// NewHub builds a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe opens a stream for table, or every table with Wildcard.
func (h *Hub) Subscribe(ctx context.Context, table string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		table:  table,
		events: make(chan Event, h.buffer),
		hub:    h,
	}
	if h.subs[table] == nil {
		h.subs[table] = make(map[uint64]*Subscription)
	}
	h.subs[table][sub.id] = sub
	return sub, nil
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev Event) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	var lagging []*Subscription
	for _, table := range []string{ev.Table, Wildcard} {
		for _, sub := range h.subs[table] {
			select {
			case sub.events <- ev:
			default:
				lagging = append(lagging, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagging {
		h.logger.Warn("closing lagging change-feed subscriber",
			zap.String("table", sub.table),
			zap.Uint64("subscription", sub.id))
		h.remove(sub)
	}
	return nil
}

// Subscribers counts open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, subs := range h.subs {
		total += len(subs)
	}
	return total
}

// Reset closes every open subscription but keeps the hub accepting new ones.
// Owners see their channel close and re-initialise from the store.
func (h *Hub) Reset() int {
	h.mu.Lock()
	all := h.snapshotLocked()
	h.mu.Unlock()

	for _, sub := range all {
		h.remove(sub)
	}
	if len(all) > 0 {
		h.logger.Warn("change feed reset, subscribers closed", zap.Int("subscribers", len(all)))
	}
	return len(all)
}

// Close shuts every subscription down.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := h.snapshotLocked()
	h.mu.Unlock()

	for _, sub := range all {
		h.remove(sub)
	}
}

func (h *Hub) snapshotLocked() []*Subscription {
	var all []*Subscription
	for _, subs := range h.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	return all
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if subs := h.subs[sub.table]; subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.subs, sub.table)
			}
		}
		close(sub.events)
		h.mu.Unlock()
	})
}
