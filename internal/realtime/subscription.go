package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is one subscriber's membership in a room. Events are read
// from C until it is closed by Unsubscribe.
type Subscription struct {
	id   uuid.UUID
	room string

	mu      sync.Mutex
	queue   chan Event
	closed  bool
	dropped uint64
}

func newSubscription(room string, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	return &Subscription{
		id:    uuid.New(),
		room:  room,
		queue: make(chan Event, size),
	}
}

func (s *Subscription) ID() uuid.UUID { return s.id }
func (s *Subscription) Room() string { return s.room }
func (s *Subscription) C() <-chan Event { return s.queue }

// Dropped returns how many events were discarded to make room for newer ones.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues ev without blocking. When the queue is full the oldest
// queued event is discarded. Returns false if an event was dropped.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	ok := true
	for {
		select {
		case s.queue <- ev:
			return ok
		default:
		}
		// Full. Only the reader can race us here, and it only frees space.
		select {
		case <-s.queue:
			s.dropped++
			ok = false
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}
