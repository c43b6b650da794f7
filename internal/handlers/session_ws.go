// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/chessrules"
	"github.com/chesshall/arbiter/internal/matchmaking"
	"github.com/chesshall/arbiter/internal/middleware"
	"github.com/chesshall/arbiter/internal/session"
)

// Intent is the structure for incoming WebSocket messages.
type Intent struct {
	Type string `json:"type"`

	// RoomCode targets join_session.
	RoomCode string `json:"roomCode,omitempty"`

	// Move carries UCI or SAN for move intents.
	Move string `json:"move,omitempty"`

	// Text carries chat.
	Text string `json:"text,omitempty"`

	// ColorPref ("w"/"b") applies to queue_join and bot_request.
	ColorPref string `json:"colorPref,omitempty"`

	// BudgetMs is the per-side clock in milliseconds for queue_join and
	// bot_request; zero means the server default.
	BudgetMs int64 `json:"budgetMs,omitempty"`

	// Level selects bot strength for bot_request.
	Level int `json:"level,omitempty"`

	// Payload is the opaque body relayed by signal intents.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SessionWSHandler upgrades the connection, verifies the caller's identity
// (token or minted guest) and runs the intent loop. One socket serves
// queueing, bot requests and any number of consecutive session joins.
func SessionWSHandler(srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"arbiter"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			srv.Logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "arbiter" {
			c.Close(websocket.StatusPolicyViolation, "Client must use the 'arbiter' subprotocol.")
			return
		}
		middleware.LogWebSocketConnect(srv.Logger, r.RemoteAddr, r.URL.Path)

		token := r.URL.Query().Get("token")
		if token == "" {
			token = extractCookieToken(r.Header.Get("Cookie"), "auth_token")
		}
		ident, err := srv.Verifier.Verify(r.Context(), token, r.URL.Query().Get("name"))
		if err != nil {
			srv.Logger.Warnf("identity verification failed: %v", err)
			c.Close(websocket.StatusPolicyViolation, "Authentication failed.")
			return
		}

		cl := &client{connID: uuid.New(), conn: c, ident: ident}
		srv.register(cl)
		srv.Logger.Infof("user %s (%s) connected as %s", ident.DisplayName, ident.UserID, cl.connID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		readErr := srv.readIntents(ctx, cl)

		// Cleanup: leave the queue, mark any joined session seat offline.
		if srv.Queue != nil {
			_ = srv.Queue.Leave(ident.UserID)
		}
		if sess := cl.session(); sess != nil {
			sess.HandleDisconnect(ident.UserID, cl.connID)
		}
		srv.unregister(cl)
		middleware.LogWebSocketDisconnect(srv.Logger, r.RemoteAddr, r.URL.Path, readErr)
	}
}

// readIntents is the per-connection read loop. Rejected intents are answered
// on this connection only; accepted ones reach everyone through the
// session's broadcast functions.
func (s *SessionServer) readIntents(ctx context.Context, cl *client) error {
	for {
		msgType, data, err := cl.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg Intent
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(cl, "invalid JSON")
			continue
		}
		s.Logger.Debugf("intent %q from %s", msg.Type, cl.ident.DisplayName)

		switch msg.Type {
		case "ping":
			s.send(cl, session.Event{Type: session.EventPong})

		case "join_session":
			s.handleJoin(ctx, cl, msg.RoomCode)

		case "move":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.ApplyMove(cl.ident.UserID, msg.Move)
			})

		case "draw_offer":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.OfferDraw(cl.ident.UserID)
			})
		case "draw_accept":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.AcceptDraw(cl.ident.UserID)
			})
		case "draw_decline":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.DeclineDraw(cl.ident.UserID)
			})

		case "resign":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.Resign(cl.ident.UserID)
			})

		case "rematch_request":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.RequestRematch(cl.ident.UserID)
			})
		case "rematch_accept":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.AcceptRematch(cl.ident.UserID)
			})
		case "rematch_decline":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.DeclineRematch(cl.ident.UserID)
			})

		case "chat":
			s.withSession(cl, func(sess *session.Session) error {
				return sess.SendChat(cl.ident.UserID, msg.Text)
			})

		case "signal":
			s.handleSignal(cl, msg.Payload)

		case "queue_join":
			s.handleQueueJoin(cl, msg)
		case "queue_leave":
			s.handleQueueLeave(cl)

		case "bot_request":
			s.handleBotRequest(cl, msg)

		default:
			s.sendError(cl, "unknown intent type: "+msg.Type)
		}
	}
}

// handleJoin attaches the connection to a room: as a reconnect when the
// identity already owns a seat, as a fresh colored seat while the room has
// an open color (reservation required), as a spectator otherwise.
func (s *SessionServer) handleJoin(ctx context.Context, cl *client, roomCode string) {
	sess, err := s.Registry.Get(roomCode)
	if err != nil {
		s.sendError(cl, "room not found: "+roomCode)
		return
	}
	s.attachBroadcast(sess)

	snap := sess.SnapshotFor()
	seated := false
	colored := false
	for _, sv := range snap.Seats {
		if sv.UserID == cl.ident.UserID {
			seated = true
			colored = sv.Color != ""
			break
		}
	}

	if seated && colored && !s.Reservations.Holds(cl.ident.UserID, roomCode) {
		// The seat proves this room owns the identity; a reservation pointing
		// anywhere else is an observed double-booking and loses defensively.
		if !s.Reservations.TryReserve(ctx, cl.ident.UserID, roomCode) {
			s.Logger.Warnf("reservation for %s contradicted their seat in %s, revoking", cl.ident.UserID, roomCode)
			s.Reservations.Revoke(cl.ident.UserID)
			s.Reservations.TryReserve(ctx, cl.ident.UserID, roomCode)
		}
	}

	if !seated {
		color := openColor(snap)
		if color != "" {
			if !s.Reservations.Holds(cl.ident.UserID, roomCode) &&
				!s.Reservations.TryReserve(ctx, cl.ident.UserID, roomCode) {
				s.sendError(cl, "you already hold a seat in another live session")
				return
			}
			err = sess.AddColoredSeat(&session.Seat{
				Kind:      session.SeatHuman,
				UserID:    cl.ident.UserID,
				Username:  cl.ident.DisplayName,
				Guest:     cl.ident.Guest,
				Color:     color,
				Rating:    cl.ident.Rating,
				HasRating: cl.ident.HasRating,
			})
			if err != nil {
				s.Reservations.Release(cl.ident.UserID, roomCode)
				s.sendError(cl, err.Error())
				return
			}
		} else {
			sess.AddSpectator(&session.Seat{
				Kind:     session.SeatSpectator,
				UserID:   cl.ident.UserID,
				Username: cl.ident.DisplayName,
				Guest:    cl.ident.Guest,
			})
		}
	}

	if err := sess.HandleReconnect(cl.ident.UserID, cl.connID, cl.conn); err != nil {
		s.sendError(cl, err.Error())
		return
	}
	cl.bind(sess)
}

// openColor returns the unclaimed color in a forming room, or "" when both
// are taken.
func openColor(snap session.Snapshot) chessrules.Color {
	if snap.Status != session.StatusForming {
		return ""
	}
	taken := map[chessrules.Color]bool{}
	for _, sv := range snap.Seats {
		if sv.Color != "" {
			taken[sv.Color] = true
		}
	}
	switch {
	case !taken[chessrules.White]:
		return chessrules.White
	case !taken[chessrules.Black]:
		return chessrules.Black
	}
	return ""
}

// handleSignal relays an opaque payload to the opposing colored seat. No
// state is kept; undeliverable signals are reported back to the sender.
func (s *SessionServer) handleSignal(cl *client, payload map[string]interface{}) {
	sess := cl.session()
	if sess == nil {
		s.sendError(cl, "join a session first")
		return
	}

	// BroadcastToSeatFn expects the session lock held, so the relay happens
	// inside one lock hold.
	sess.Mu.Lock()
	var myColor chessrules.Color
	for _, seat := range sess.Seats {
		if seat.Kind != session.SeatBot && seat.UserID == cl.ident.UserID {
			myColor = seat.Color
		}
	}
	delivered := false
	if myColor != "" && sess.BroadcastToSeatFn != nil {
		for _, seat := range sess.Seats {
			if seat.Color == myColor.Opponent() && seat.Kind == session.SeatHuman && seat.Connected {
				sess.BroadcastToSeatFn(seat.ConnID, session.Event{Type: session.EventSignal, Payload: payload})
				delivered = true
			}
		}
	}
	sess.Mu.Unlock()

	if myColor == "" {
		s.sendError(cl, "spectators cannot signal")
		return
	}
	if !delivered {
		s.sendError(cl, "opponent is not connected")
	}
}

func (s *SessionServer) handleQueueJoin(cl *client, msg Intent) {
	if s.Queue == nil {
		s.sendError(cl, "matchmaking is not enabled")
		return
	}
	budget := s.DefaultBudget
	if msg.BudgetMs > 0 {
		budget = time.Duration(msg.BudgetMs) * time.Millisecond
	}
	err := s.Queue.Join(matchmaking.Ticket{
		UserID:    cl.ident.UserID,
		Username:  cl.ident.DisplayName,
		Guest:     cl.ident.Guest,
		Rating:    cl.ident.Rating,
		HasRating: cl.ident.HasRating,
		ColorPref: chessrules.Color(msg.ColorPref),
		Budget:    budget,
	})
	if err != nil {
		s.sendError(cl, err.Error())
		return
	}
	s.send(cl, session.Event{Type: session.EventQueueUpdate, Payload: map[string]interface{}{
		"waiting": true,
		"size":    s.Queue.Size(),
	}})
}

func (s *SessionServer) handleQueueLeave(cl *client) {
	if s.Queue == nil {
		s.sendError(cl, "matchmaking is not enabled")
		return
	}
	if err := s.Queue.Leave(cl.ident.UserID); err != nil {
		s.sendError(cl, err.Error())
		return
	}
	s.send(cl, session.Event{Type: session.EventQueueUpdate, Payload: map[string]interface{}{
		"waiting": false,
	}})
}

// handleBotRequest spins up a room against a computer seat and joins the
// caller immediately. The human takes their preferred color, white when
// indifferent.
func (s *SessionServer) handleBotRequest(cl *client, msg Intent) {
	if !s.Registry.BotCapable() {
		s.sendError(cl, "bot opponents are not available")
		return
	}
	budget := s.DefaultBudget
	if msg.BudgetMs > 0 {
		budget = time.Duration(msg.BudgetMs) * time.Millisecond
	}
	humanColor := chessrules.White
	if chessrules.Color(msg.ColorPref) == chessrules.Black {
		humanColor = chessrules.Black
	}

	sess, err := s.Registry.Create(budget)
	if err != nil {
		s.sendError(cl, "could not create session: "+err.Error())
		return
	}
	s.attachBroadcast(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !s.Reservations.Holds(cl.ident.UserID, sess.Code) &&
		!s.Reservations.TryReserve(ctx, cl.ident.UserID, sess.Code) {
		s.Registry.Remove(sess.Code)
		s.sendError(cl, "you already hold a seat in another live session")
		return
	}

	err = sess.AddColoredSeat(&session.Seat{
		Kind:      session.SeatHuman,
		UserID:    cl.ident.UserID,
		Username:  cl.ident.DisplayName,
		Guest:     cl.ident.Guest,
		Color:     humanColor,
		Rating:    cl.ident.Rating,
		HasRating: cl.ident.HasRating,
		ConnID:    cl.connID,
		Conn:      cl.conn,
		Connected: true,
	})
	if err == nil {
		err = sess.AddColoredSeat(&session.Seat{
			Kind:        session.SeatBot,
			Username:    "arbiter-bot",
			Color:       humanColor.Opponent(),
			EngineLevel: msg.Level,
		})
	}
	if err != nil {
		s.Reservations.Release(cl.ident.UserID, sess.Code)
		s.Registry.Remove(sess.Code)
		s.sendError(cl, err.Error())
		return
	}
	cl.bind(sess)
}

// withSession runs a session operation for a bound connection, reflecting
// any rejection back as a private error event.
func (s *SessionServer) withSession(cl *client, fn func(*session.Session) error) {
	sess := cl.session()
	if sess == nil {
		s.sendError(cl, "join a session first")
		return
	}
	if err := fn(sess); err != nil {
		if errors.Is(err, chessrules.ErrIllegalMove) {
			s.sendError(cl, "illegal move")
			return
		}
		s.sendError(cl, err.Error())
	}
}

// send writes one event to a specific connection asynchronously with a write
// timeout, never while holding any session lock.
func (s *SessionServer) send(cl *client, ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.Logger.Errorf("failed to marshal %s event: %v", ev.Type, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := cl.conn.Write(ctx, websocket.MessageText, data); err != nil {
			s.Logger.Warnf("failed to write %s event to %s: %v", ev.Type, cl.ident.UserID, err)
		}
	}()
}

func (s *SessionServer) sendError(cl *client, message string) {
	s.send(cl, session.Event{Type: session.EventError, Payload: map[string]interface{}{
		"message": message,
	}})
}
