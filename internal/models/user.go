package models

import "github.com/google/uuid"

// User is the profile row held by the durable profile store. Guests never get
// a row; their identity lives only in the JWT minted for the connection.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`

	Elo int `json:"elo"`

	// Glicko2 state carried between rated games.
	Phi   float64 `json:"phi"`
	Sigma float64 `json:"sigma"`

	// ActiveSession is the room code the user is reserved into, or "" when idle.
	ActiveSession string `json:"active_session,omitempty"`
}

// Identity is the result of verifying a connection token: who the caller is
// for the lifetime of one websocket connection.
type Identity struct {
	UserID      uuid.UUID
	DisplayName string
	Guest       bool

	// Rating is only meaningful when HasRating is true; guests have none.
	Rating    int
	HasRating bool
}
