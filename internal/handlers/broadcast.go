// internal/handlers/broadcast.go
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/session"
)

const writeTimeout = 3 * time.Second

// createBroadcastFunc returns a function suitable for Session.BroadcastFn.
// It is invoked while the session lock is held, so it reads the seat list
// directly, then marshals and writes asynchronously off the lock.
func (s *SessionServer) createBroadcastFunc(sess *session.Session) func(ev session.Event) {
	return func(ev session.Event) {
		var conns []*websocket.Conn
		for _, seat := range sess.Seats {
			if seat.Connected && seat.Conn != nil {
				conns = append(conns, seat.Conn)
			}
		}
		if len(conns) == 0 {
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			s.Logger.Errorf("failed to marshal broadcast event (%s) for session %s: %v", ev.Type, sess.Code, err)
			return
		}

		go func(conns []*websocket.Conn, data []byte, code string) {
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.Logger.Warnf("failed to write broadcast message in session %s: %v", code, err)
				}
			}
		}(conns, data, sess.Code)
	}
}

// createBroadcastToSeatFunc returns a function suitable for
// Session.BroadcastToSeatFn. Same locking contract as the broadcast variant.
func (s *SessionServer) createBroadcastToSeatFunc(sess *session.Session) func(connID uuid.UUID, ev session.Event) {
	return func(connID uuid.UUID, ev session.Event) {
		var target *websocket.Conn
		for _, seat := range sess.Seats {
			if seat.ConnID == connID && seat.Connected && seat.Conn != nil {
				target = seat.Conn
				break
			}
		}
		if target == nil {
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			s.Logger.Errorf("failed to marshal private event (%s) in session %s: %v", ev.Type, sess.Code, err)
			return
		}

		go func(conn *websocket.Conn, data []byte, code string) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				s.Logger.Warnf("failed to write private message in session %s: %v", code, err)
			}
		}(target, data, sess.Code)
	}
}
