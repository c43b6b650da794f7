// internal/session/events.go
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/chessrules"
)

// EventType enumerates everything the gateway fans out to subscribers.
type EventType string

const (
	EventSnapshot    EventType = "session_snapshot" // full state resync, private
	EventMoveApplied EventType = "move_applied"
	EventClockSync   EventType = "clock_sync"
	EventGameOver    EventType = "game_over"
	EventPresence    EventType = "presence_changed"
	EventDrawOffer   EventType = "draw_offer"
	EventDrawDecline EventType = "draw_declined"
	EventRematch     EventType = "rematch_state"
	EventChat        EventType = "chat"
	EventSignal      EventType = "signal" // opaque relay payload, private
	EventError       EventType = "error"  // rejected intent, private

	// Gateway-level events that are not tied to one session's state.
	EventMatchFound  EventType = "match_found"
	EventQueueUpdate EventType = "queue_update"
	EventPong        EventType = "pong"
)

// Event is the wire envelope for everything broadcast out of a session.
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Snapshot is set on session_snapshot events only.
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// MoveRecord is one entry of the authoritative move log.
type MoveRecord struct {
	Index int    `json:"index"`
	UCI   string `json:"uci"`
	SAN   string `json:"san"`
	FEN   string `json:"fen"`
}

// ChatMessage is one entry of the bounded session chat log.
type ChatMessage struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// SeatView is the public projection of a seat inside a snapshot.
type SeatView struct {
	Kind     string           `json:"kind"` // "human", "bot", "spectator"
	UserID   uuid.UUID        `json:"userId,omitempty"`
	Username string           `json:"username"`
	Color    chessrules.Color `json:"color,omitempty"`
	Online   bool             `json:"online"`
	Rating   int              `json:"rating,omitempty"`
}

// ClockView is the clock portion of a snapshot, in milliseconds so clients
// never parse durations.
type ClockView struct {
	WhiteMillis int64            `json:"whiteMs"`
	BlackMillis int64            `json:"blackMs"`
	Running     chessrules.Color `json:"running,omitempty"`
}

// Snapshot is the full authoritative state replayed to a (re)connecting
// client and archived when a session ends.
type Snapshot struct {
	RoomCode  string    `json:"roomCode"`
	Status    Status    `json:"status"`
	Reason    Reason    `json:"reason,omitempty"`
	Winner    string    `json:"winner,omitempty"` // color of the winning side
	CreatedAt time.Time `json:"createdAt"`

	Seats   []SeatView   `json:"seats"`
	Moves   []MoveRecord `json:"moves"`
	FEN     string       `json:"fen"`
	Clock   ClockView    `json:"clock"`
	ToMove  string       `json:"toMove,omitempty"`
	Pending struct {
		DrawOfferBy     string   `json:"drawOfferBy,omitempty"`
		RematchAccepted []string `json:"rematchAccepted,omitempty"`
	} `json:"pending"`
	Chat []ChatMessage `json:"chat,omitempty"`
}
