// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshall/arbiter/internal/chessrules"
)

type fakeReserver struct {
	mu     sync.Mutex
	held   map[uuid.UUID]string
	denied map[uuid.UUID]bool
}

func newFakeReserver() *fakeReserver {
	return &fakeReserver{held: make(map[uuid.UUID]string), denied: make(map[uuid.UUID]bool)}
}

func (f *fakeReserver) TryReserve(ctx context.Context, userID uuid.UUID, roomCode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[userID] {
		return false
	}
	if _, ok := f.held[userID]; ok {
		return false
	}
	f.held[userID] = roomCode
	return true
}

func (f *fakeReserver) Release(userID uuid.UUID, roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[userID] == roomCode {
		delete(f.held, userID)
	}
}

type fakeRooms struct {
	mu     sync.Mutex
	next   int
	closed []string
	fail   bool
}

func (f *fakeRooms) Open(budget time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("registry unavailable")
	}
	f.next++
	return fmt.Sprintf("ROOM%02d", f.next), nil
}

func (f *fakeRooms) Close(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, code)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	users  []uuid.UUID
}

func (f *fakeNotifier) Notify(userID uuid.UUID, event string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.users = append(f.users, userID)
}

type matchRec struct {
	code         string
	white, black Ticket
}

func newTestQueue(res Reserver, rooms RoomFactory, n Notifier) (*Queue, *[]matchRec) {
	q := NewQueue(Config{WidenEvery: 10 * time.Second}, res, rooms, n)
	var matches []matchRec
	q.OnMatch = func(code string, white, black Ticket) {
		matches = append(matches, matchRec{code, white, black})
	}
	return q, &matches
}

func ticket(name string, rating int, age time.Duration) Ticket {
	return Ticket{
		UserID:     uuid.New(),
		Username:   name,
		Rating:     rating,
		HasRating:  rating > 0,
		Budget:     5 * time.Minute,
		EnqueuedAt: time.Now().Add(-age),
	}
}

func TestExactBucketPairsImmediately(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	require.NoError(t, q.Join(ticket("alice", 1510, 0)))
	require.NoError(t, q.Join(ticket("bob", 1515, 0)))

	q.Sweep(time.Now())

	require.Len(t, *matches, 1)
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, "ROOM01", (*matches)[0].code)
}

func TestFarApartWaitUntilWidened(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	// 150 points apart: needs the delta-200 step, unlocked after 4 widen
	// periods of waiting.
	require.NoError(t, q.Join(ticket("alice", 1500, 0)))
	require.NoError(t, q.Join(ticket("bob", 1650, 0)))

	q.Sweep(time.Now())
	assert.Empty(t, *matches)
	assert.Equal(t, 2, q.Size())

	q.Sweep(time.Now().Add(45 * time.Second))
	require.Len(t, *matches, 1)
	assert.Equal(t, 0, q.Size())
}

func TestCloserOpponentBeatsOlderDistantOne(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	// alice has widened far enough to reach carol, but an equal-rated
	// opponent exists and must win even though carol has waited longer.
	carol := ticket("carol", 1700, 60*time.Second)
	require.NoError(t, q.Join(ticket("alice", 1500, 80*time.Second)))
	require.NoError(t, q.Join(carol))
	require.NoError(t, q.Join(ticket("bob", 1500, 0)))

	q.Sweep(time.Now())

	require.Len(t, *matches, 1)
	m := (*matches)[0]
	names := []string{m.white.Username, m.black.Username}
	assert.Contains(t, names, "alice")
	assert.Contains(t, names, "bob")
	assert.True(t, q.Waiting(carol.UserID))
}

func TestUnknownPoolPairsAmongItself(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	require.NoError(t, q.Join(ticket("guest1", 0, 0)))
	require.NoError(t, q.Join(ticket("guest2", 0, 0)))

	q.Sweep(time.Now())
	require.Len(t, *matches, 1)
}

func TestRatedReachesUnknownOnlyFullyWidened(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	require.NoError(t, q.Join(ticket("alice", 1500, 0)))
	require.NoError(t, q.Join(ticket("guest", 0, 0)))

	q.Sweep(time.Now())
	assert.Empty(t, *matches)

	// Seven widen periods exhausts every rated step.
	q.Sweep(time.Now().Add(75 * time.Second))
	require.Len(t, *matches, 1)
}

func TestFIFOWithinWindow(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	oldest := ticket("oldest", 1500, 30*time.Second)
	middle := ticket("middle", 1505, 20*time.Second)
	newest := ticket("newest", 1510, 0)
	require.NoError(t, q.Join(oldest))
	require.NoError(t, q.Join(middle))
	require.NoError(t, q.Join(newest))

	q.Sweep(time.Now())

	require.Len(t, *matches, 1)
	m := (*matches)[0]
	names := []string{m.white.Username, m.black.Username}
	assert.Contains(t, names, "oldest")
	assert.Contains(t, names, "middle")
	assert.True(t, q.Waiting(newest.UserID))
}

func TestBudgetsNeverMix(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	blitz := ticket("blitz", 1500, 0)
	blitz.Budget = 3 * time.Minute
	rapid := ticket("rapid", 1500, 0)
	rapid.Budget = 10 * time.Minute

	require.NoError(t, q.Join(blitz))
	require.NoError(t, q.Join(rapid))
	q.Sweep(time.Now())
	assert.Empty(t, *matches)
	assert.Equal(t, 2, q.Size())
}

func TestDoubleJoinRejected(t *testing.T) {
	q, _ := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	tk := ticket("alice", 1500, 0)
	require.NoError(t, q.Join(tk))
	assert.ErrorIs(t, q.Join(tk), ErrAlreadyQueued)
}

func TestLeave(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	tk := ticket("alice", 1500, 0)
	require.NoError(t, q.Join(tk))
	require.NoError(t, q.Join(ticket("bob", 1500, 0)))
	require.NoError(t, q.Leave(tk.UserID))

	q.Sweep(time.Now())
	assert.Empty(t, *matches)
	assert.ErrorIs(t, q.Leave(tk.UserID), ErrNotQueued)
}

func TestReservationFailureRollsBack(t *testing.T) {
	res := newFakeReserver()
	rooms := &fakeRooms{}
	notif := &fakeNotifier{}
	q, matches := newTestQueue(res, rooms, notif)

	busy := ticket("busy", 1500, 0)
	free := ticket("free", 1505, 10*time.Second)
	res.denied[busy.UserID] = true

	require.NoError(t, q.Join(free))
	require.NoError(t, q.Join(busy))

	q.Sweep(time.Now())

	// No match announced, the room was torn down, the denied side was told
	// and dropped, the clean side kept its place in line.
	assert.Empty(t, *matches)
	assert.NotEmpty(t, rooms.closed)
	assert.False(t, q.Waiting(busy.UserID))
	assert.True(t, q.Waiting(free.UserID))
	require.Len(t, notif.events, 1)
	assert.Equal(t, "queue_rejected", notif.events[0])
	assert.Equal(t, busy.UserID, notif.users[0])

	// The survivor's reservation is not leaked.
	res.mu.Lock()
	defer res.mu.Unlock()
	assert.Empty(t, res.held)
}

func TestColorPreferenceHonored(t *testing.T) {
	q, matches := newTestQueue(newFakeReserver(), &fakeRooms{}, nil)

	wantsWhite := ticket("ww", 1500, 0)
	wantsWhite.ColorPref = chessrules.White
	indifferent := ticket("any", 1500, 0)

	require.NoError(t, q.Join(wantsWhite))
	require.NoError(t, q.Join(indifferent))
	q.Sweep(time.Now())

	require.Len(t, *matches, 1)
	assert.Equal(t, "ww", (*matches)[0].white.Username)
	assert.Equal(t, "any", (*matches)[0].black.Username)
}

func TestRoomFactoryDownRequeuesBoth(t *testing.T) {
	rooms := &fakeRooms{fail: true}
	q, matches := newTestQueue(newFakeReserver(), rooms, nil)

	a := ticket("alice", 1500, 0)
	b := ticket("bob", 1500, 0)
	require.NoError(t, q.Join(a))
	require.NoError(t, q.Join(b))

	q.Sweep(time.Now())
	assert.Empty(t, *matches)
	assert.Equal(t, 2, q.Size())

	rooms.mu.Lock()
	rooms.fail = false
	rooms.mu.Unlock()
	q.Sweep(time.Now())
	assert.Len(t, *matches, 1)
}
