package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames; anything larger is a misbehaving peer.
	maxInboundBytes = 4096
)

// State is a session's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errPeerClosed   = errors.New("peer closed connection")
	errUnsubscribed = errors.New("subscription closed")
)

// Session forwards one room's events to one websocket connection.
type Session struct {
	id     uuid.UUID
	conn   *websocket.Conn
	hub    *Hub
	room   string
	logger *zap.Logger

	state     atomic.Int32
	sub       *Subscription
	closeOnce sync.Once
}

func NewSession(conn *websocket.Conn, hub *Hub, room string, logger *zap.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:     id,
		conn:   conn,
		hub:    hub,
		room:   room,
		logger: logger.With(zap.String("session", id.String()), zap.String("room", room)),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run joins the room and pumps events until the peer goes away or ctx is
// done. No history is replayed on join. The subscription is always released
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.sub = s.hub.Subscribe(s.room)
	s.state.Store(int32(StateJoined))
	s.logger.Debug("session joined",
		zap.Stringer("subscription", s.sub.ID()),
		zap.Int("room_size", s.hub.Subscribers(s.sub.Room())),
	)
	defer s.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump() })
	g.Go(func() error { return s.writePump(ctx) })
	g.Go(func() error {
		// Unblocks readPump once the write side has stopped.
		<-ctx.Done()
		_ = s.conn.Close()
		return nil
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errPeerClosed), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// readPump discards inbound data frames. It exists to process pong and
// close frames and to notice a dead peer.
func (s *Session) readPump() error {
	s.conn.SetReadLimit(maxInboundBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return errPeerClosed
		}
	}
}

func (s *Session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return ctx.Err()

		case ev, ok := <-s.sub.C():
			if !ok {
				return errUnsubscribed
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Debug("failed writing event", zap.Error(err))
				return errPeerClosed
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errPeerClosed
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.hub.Unsubscribe(s.sub)
		_ = s.conn.Close()
		s.state.Store(int32(StateClosed))
		log := s.logger.With(
			zap.Stringer("subscription", s.sub.ID()),
			zap.Int("room_size", s.hub.Subscribers(s.sub.Room())),
		)
		if n := s.sub.Dropped(); n > 0 {
			log.Info("session closed", zap.Uint64("dropped_events", n))
		} else {
			log.Debug("session closed")
		}
	})
}
