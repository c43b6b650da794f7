// internal/handlers/session_server.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chesshall/arbiter/internal/auth"
	"github.com/chesshall/arbiter/internal/chessrules"
	"github.com/chesshall/arbiter/internal/matchmaking"
	"github.com/chesshall/arbiter/internal/models"
	"github.com/chesshall/arbiter/internal/session"
)

// Reservations is the slice of the reservation service the gateway needs.
type Reservations interface {
	TryReserve(ctx context.Context, userID uuid.UUID, roomCode string) bool
	Holds(userID uuid.UUID, roomCode string) bool
	Release(userID uuid.UUID, roomCode string)
	Revoke(userID uuid.UUID)
}

// Notifier forwards offline-path notifications (match found while the
// winning side's tab is closed, for instance).
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]interface{})
}

// SessionServer is the websocket-facing half of the service: it owns the
// connection bookkeeping and glues verified identities to the session
// registry, the matchmaking queue and the reservation service.
type SessionServer struct {
	Logger       *logrus.Logger
	Registry     *session.Registry
	Queue        *matchmaking.Queue
	Reservations Reservations
	Verifier     *auth.Verifier
	Notifier     Notifier

	DefaultBudget time.Duration

	mu    sync.Mutex
	conns map[uuid.UUID]*client // by user id, latest connection wins
}

// client is one live websocket connection bound to a verified identity.
type client struct {
	connID uuid.UUID
	conn   *websocket.Conn
	ident  models.Identity

	mu    sync.Mutex
	bound *session.Session // session this connection has joined, if any
}

func (c *client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

func (c *client) bind(s *session.Session) {
	c.mu.Lock()
	c.bound = s
	c.mu.Unlock()
}

// NewSessionServer wires the gateway.
func NewSessionServer(logger *logrus.Logger, reg *session.Registry, queue *matchmaking.Queue, res Reservations, verifier *auth.Verifier, notifier Notifier, defaultBudget time.Duration) *SessionServer {
	srv := &SessionServer{
		Logger:        logger,
		Registry:      reg,
		Queue:         queue,
		Reservations:  res,
		Verifier:      verifier,
		Notifier:      notifier,
		DefaultBudget: defaultBudget,
		conns:         make(map[uuid.UUID]*client),
	}
	if queue != nil {
		queue.OnMatch = srv.onMatch
	}
	return srv
}

// Open implements matchmaking.RoomFactory.
func (s *SessionServer) Open(budget time.Duration) (string, error) {
	sess, err := s.Registry.Create(budget)
	if err != nil {
		return "", err
	}
	s.attachBroadcast(sess)
	return sess.Code, nil
}

// Close implements matchmaking.RoomFactory: tears down a room whose match
// fell through before anyone was seated.
func (s *SessionServer) Close(roomCode string) {
	s.Registry.Remove(roomCode)
}

// onMatch seats both matched players (offline for now) and tells each side
// where to go. Seating up front pins the colors the queue assigned; the
// players' join_session intents then rebind as reconnects.
func (s *SessionServer) onMatch(roomCode string, white, black matchmaking.Ticket) {
	sess, err := s.Registry.Get(roomCode)
	if err != nil {
		s.Logger.Errorf("match room %s vanished before seating: %v", roomCode, err)
		return
	}

	seatOf := func(t matchmaking.Ticket, color chessrules.Color) *session.Seat {
		return &session.Seat{
			Kind:      session.SeatHuman,
			UserID:    t.UserID,
			Username:  t.Username,
			Guest:     t.Guest,
			Color:     color,
			Rating:    t.Rating,
			HasRating: t.HasRating,
		}
	}
	if err := sess.AddColoredSeat(seatOf(white, chessrules.White)); err != nil {
		s.Logger.Errorf("failed to seat %s in %s: %v", white.Username, roomCode, err)
	}
	if err := sess.AddColoredSeat(seatOf(black, chessrules.Black)); err != nil {
		s.Logger.Errorf("failed to seat %s in %s: %v", black.Username, roomCode, err)
	}

	s.tellMatched(white, roomCode, chessrules.White)
	s.tellMatched(black, roomCode, chessrules.Black)
}

// tellMatched delivers match_found over the player's live connection, falling
// back to the notification queue when they are not connected right now.
func (s *SessionServer) tellMatched(t matchmaking.Ticket, roomCode string, color chessrules.Color) {
	payload := map[string]interface{}{
		"roomCode": roomCode,
		"color":    string(color),
	}
	s.mu.Lock()
	c := s.conns[t.UserID]
	s.mu.Unlock()

	if c != nil {
		s.send(c, session.Event{Type: session.EventMatchFound, Payload: payload})
		return
	}
	if s.Notifier != nil && !t.Guest {
		s.Notifier.Notify(t.UserID, "match_found", payload)
	}
}

// register tracks the connection; a newer connection for the same identity
// replaces the older one in the map (the session layer handles seat rebinds).
func (s *SessionServer) register(c *client) {
	s.mu.Lock()
	s.conns[c.ident.UserID] = c
	s.mu.Unlock()
}

func (s *SessionServer) unregister(c *client) {
	s.mu.Lock()
	if cur, ok := s.conns[c.ident.UserID]; ok && cur.connID == c.connID {
		delete(s.conns, c.ident.UserID)
	}
	s.mu.Unlock()
}

// attachBroadcast installs the fan-out functions on a session if they are
// not set yet. Both are invoked while the session lock is held, so they copy
// what they need, then marshal and write asynchronously.
func (s *SessionServer) attachBroadcast(sess *session.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	if sess.BroadcastFn == nil {
		sess.BroadcastFn = s.createBroadcastFunc(sess)
	}
	if sess.BroadcastToSeatFn == nil {
		sess.BroadcastToSeatFn = s.createBroadcastToSeatFunc(sess)
	}
}
