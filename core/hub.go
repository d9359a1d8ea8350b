package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
)

// Hub keeps the local members of each broadcast group and fans out the
// events received from the broker to them.
type Hub struct {
	broker Broker
	// group name -> connection id -> connection. Member maps are replaced,
	// never mutated, so a loaded map can be ranged over without the lock.
	groups *SyncMap[string, map[string]*Conn]
	logger *slog.Logger
	done   chan struct{}
}

func NewHub(broker Broker, logger *slog.Logger) *Hub {
	return &Hub{
		broker: broker,
		groups: NewSyncMap[string, map[string]*Conn](),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (h *Hub) GroupAdd(group string, c *Conn) {
	h.groups.LoadAndStore(group, func(members map[string]*Conn, _ bool) map[string]*Conn {
		next := make(map[string]*Conn, len(members)+1)
		maps.Copy(next, members)
		next[c.ID()] = c
		return next
	})
}

func (h *Hub) GroupDiscard(group string, c *Conn) {
	h.groups.LoadAndUpdate(group, func(members map[string]*Conn, _ bool) (map[string]*Conn, bool) {
		next := make(map[string]*Conn, len(members))
		for id, m := range members {
			if id != c.ID() {
				next[id] = m
			}
		}
		return next, len(next) > 0
	})
}

// GroupSize returns the number of local members of the group.
func (h *Hub) GroupSize(group string) int {
	members, _ := h.groups.Load(group)
	return len(members)
}

// GroupSend publishes the event to every member of the group across all processes.
func (h *Hub) GroupSend(ctx context.Context, group string, e *GroupEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s): %w", e.Type, err)
	}
	if err := h.broker.Publish(ctx, group, payload); err != nil {
		return fmt.Errorf("Publish(%s): %w", group, err)
	}
	return nil
}

// Start subscribes to the broker and dispatches events until ctx is done.
// The subscription is active once Start returns.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.broker.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("Subscribe: %w", err)
	}
	go h.run(sub)
	return nil
}

// Done is closed once the dispatch loop has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) run(sub <-chan BrokerMessage) {
	defer close(h.done)
	h.logger.Info("hub started")
	for msg := range sub {
		var e GroupEvent
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			h.logger.Error(fmt.Sprintf("decoding group event on %s: %v", msg.Group, err))
			continue
		}
		h.dispatch(msg.Group, &e)
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) dispatch(group string, e *GroupEvent) {
	members, ok := h.groups.Load(group)
	if !ok {
		return
	}
	for _, c := range members {
		c.deliver(e)
	}
}
