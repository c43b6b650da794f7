// internal/handlers/rooms_test.go
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshall/arbiter/internal/auth"
	"github.com/chesshall/arbiter/internal/chessrules"
	"github.com/chesshall/arbiter/internal/matchmaking"
	"github.com/chesshall/arbiter/internal/reservation"
	"github.com/chesshall/arbiter/internal/session"
)

func matchTicket(name string, rating int) matchmaking.Ticket {
	return matchmaking.Ticket{
		UserID:    uuid.New(),
		Username:  name,
		Rating:    rating,
		HasRating: true,
		Budget:    2 * time.Minute,
	}
}

func testServer(t *testing.T) *SessionServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry := session.NewRegistry(session.RegistryConfig{
		Session: session.Config{
			GracePeriod:       time.Minute,
			FirstMoveDeadline: time.Minute,
		},
	}, nil, nil, nil, nil, nil)

	return NewSessionServer(logger, registry, nil, reservation.New(nil), auth.NewVerifier(nil), nil, 5*time.Minute)
}

func TestCreateRoomHandler(t *testing.T) {
	srv := testServer(t)
	h := CreateRoomHandler(srv)

	req := httptest.NewRequest(http.MethodPost, "/rooms/create", strings.NewReader(`{"budgetMs":180000}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.RoomCode, 6)
	assert.Equal(t, int64(180000), resp.BudgetMs)

	sess, err := srv.Registry.Get(resp.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, sess.TimeBudget)
}

func TestCreateRoomHandlerDefaultsBudget(t *testing.T) {
	srv := testServer(t)
	h := CreateRoomHandler(srv)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/rooms/create", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, (5 * time.Minute).Milliseconds(), resp.BudgetMs)
}

func TestCreateRoomHandlerRejectsGet(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	CreateRoomHandler(srv)(rec, httptest.NewRequest(http.MethodGet, "/rooms/create", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoomInfoHandler(t *testing.T) {
	srv := testServer(t)
	sess, err := srv.Registry.Create(time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	RoomInfoHandler(srv)(rec, httptest.NewRequest(http.MethodGet, "/rooms/info?code="+sess.Code, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, sess.Code, snap.RoomCode)
	assert.Equal(t, session.StatusForming, snap.Status)

	rec = httptest.NewRecorder()
	RoomInfoHandler(srv)(rec, httptest.NewRequest(http.MethodGet, "/rooms/info?code=NOPE99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenColor(t *testing.T) {
	srv := testServer(t)
	sess, err := srv.Registry.Create(time.Minute)
	require.NoError(t, err)

	assert.Equal(t, chessrules.White, openColor(sess.SnapshotFor()))

	require.NoError(t, sess.AddColoredSeat(&session.Seat{
		Kind:   session.SeatHuman,
		UserID: uuid.New(),
		Color:  chessrules.White,
	}))
	assert.Equal(t, chessrules.Black, openColor(sess.SnapshotFor()))

	require.NoError(t, sess.AddColoredSeat(&session.Seat{
		Kind:   session.SeatHuman,
		UserID: uuid.New(),
		Color:  chessrules.Black,
	}))
	// Full room: joiners become spectators.
	assert.Equal(t, chessrules.Color(""), openColor(sess.SnapshotFor()))
}

func TestOnMatchSeatsBothPlayers(t *testing.T) {
	srv := testServer(t)

	code, err := srv.Open(2 * time.Minute)
	require.NoError(t, err)

	white := matchTicket("alice", 1520)
	black := matchTicket("bob", 1540)
	srv.onMatch(code, white, black)

	sess, err := srv.Registry.Get(code)
	require.NoError(t, err)
	snap := sess.SnapshotFor()
	assert.Equal(t, session.StatusActive, snap.Status)
	require.Len(t, snap.Seats, 2)

	colors := map[string]chessrules.Color{}
	for _, sv := range snap.Seats {
		colors[sv.Username] = sv.Color
	}
	assert.Equal(t, chessrules.White, colors["alice"])
	assert.Equal(t, chessrules.Black, colors["bob"])
}
