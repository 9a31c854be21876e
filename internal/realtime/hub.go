package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Envelope is what travels over a Broker. Origin lets an instance skip its
// own events, which it has already delivered locally.
type Envelope struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Event  Event  `json:"event"`
}

// Broker relays envelopes between Hub instances.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls deliver for every envelope until ctx is done.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// Hub is the room-keyed broadcast bus.
//
// Why one map of rooms instead of a goroutine per room?
//   - Rooms are created and dropped as sockets come and go. A map entry costs
//     nothing when idle, and an empty room is deleted on the last Unsubscribe.
//   - Publish only needs the read lock, so messages to different rooms never
//     wait on each other. Subscribe/Unsubscribe take the write lock briefly.
//
// Why a per-subscriber queue?
//   - Publish runs on the request path. It must never wait for a slow
//     browser, so each subscriber gets its own bounded buffer and the oldest
//     event is dropped when it fills (see Subscription.offer).
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[uuid.UUID]*Subscription

	queueSize  int
	broker     Broker
	instanceID string
	logger     *zap.Logger
}

// NewHub creates a hub whose subscribers buffer up to queueSize events.
// broker may be nil for a single-instance deployment.
func NewHub(queueSize int, broker Broker, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[uuid.UUID]*Subscription),
		queueSize:  queueSize,
		broker:     broker,
		instanceID: uuid.NewString(),
		logger:     logger.Named("hub"),
	}
}

// Subscribe joins room and returns the handle to read from.
func (h *Hub) Subscribe(room string) *Subscription {
	sub := newSubscription(room, h.queueSize)

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]*Subscription)
		h.rooms[room] = members
	}
	members[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscribed", zap.String("room", room), zap.Stringer("sub", sub.id))
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if members, ok := h.rooms[sub.room]; ok {
		delete(members, sub.id)
		if len(members) == 0 {
			delete(h.rooms, sub.room)
		}
	}
	h.mu.Unlock()

	sub.close()
	h.logger.Debug("unsubscribed", zap.String("room", sub.room), zap.Stringer("sub", sub.id))
}

// Publish delivers ev to every local subscriber of room and, when a broker is
// configured, to other instances. It never blocks on subscribers. The error
// only reports a broker failure; local delivery has already happened.
//
// Why deliver locally before publishing to the broker?
//   - Local sockets get the message even when Redis/RabbitMQ is down.
//   - Our own envelope comes back from the broker too; Run skips it by
//     Origin, so local subscribers never see the event twice.
func (h *Hub) Publish(ctx context.Context, room string, ev Event) error {
	h.broadcast(room, ev)

	if h.broker == nil {
		return nil
	}
	env := Envelope{Origin: h.instanceID, Room: room, Event: ev}
	if err := h.broker.Publish(ctx, env); err != nil {
		return fmt.Errorf("relay event to broker: %w", err)
	}
	return nil
}

func (h *Hub) broadcast(room string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.rooms[room] {
		if !sub.offer(ev) {
			h.logger.Warn("subscriber queue full, dropped oldest event",
				zap.String("room", room),
				zap.Stringer("sub", sub.id),
			)
		}
	}
}

// Run relays broker envelopes from other instances into local rooms until
// ctx is done. Without a broker it just waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	h.logger.Info("relaying events from broker", zap.String("instance", h.instanceID))
	err := h.broker.Subscribe(ctx, func(env Envelope) {
		if env.Origin == h.instanceID {
			return
		}
		h.broadcast(env.Room, env.Event)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("broker subscription: %w", err)
	}
	return nil
}

// Subscribers returns the number of local subscribers in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
