// internal/session/registry_test.go
package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chesshall/arbiter/internal/chessrules"
)

type fakeReleaser struct {
	mu       sync.Mutex
	released map[uuid.UUID]string
}

func (f *fakeReleaser) Release(userID uuid.UUID, roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released == nil {
		f.released = make(map[uuid.UUID]string)
	}
	f.released[userID] = roomCode
}

func testRegistry(rel Releaser) *Registry {
	return NewRegistry(RegistryConfig{
		Session:       testConfig(),
		ClockInterval: 10 * time.Millisecond,
		TerminalTTL:   50 * time.Millisecond,
		FormingTTL:    50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, nil, nil, nil, nil, rel)
}

func TestRegistryCreateAndLookup(t *testing.T) {
	r := testRegistry(nil)

	s, err := r.Create(3 * time.Minute)
	require.NoError(t, err)
	require.Len(t, s.Code, roomCodeLength)
	assert.Equal(t, 3*time.Minute, s.TimeBudget)

	got, err := r.Get(s.Code)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get("NOPE99")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistryCodesAreUnique(t *testing.T) {
	r := testRegistry(nil)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		s, err := r.Create(time.Minute)
		require.NoError(t, err)
		require.False(t, seen[s.Code], "duplicate room code %s", s.Code)
		seen[s.Code] = true
	}
	assert.Equal(t, 200, r.Count())
}

func TestRemoveReleasesReservations(t *testing.T) {
	rel := &fakeReleaser{}
	r := testRegistry(rel)

	s, err := r.Create(time.Minute)
	require.NoError(t, err)
	white := humanSeat(chessrules.White, "alice")
	black := humanSeat(chessrules.Black, "bob")
	require.NoError(t, s.AddColoredSeat(white))
	require.NoError(t, s.AddColoredSeat(black))

	r.Remove(s.Code)
	assert.Equal(t, 0, r.Count())

	rel.mu.Lock()
	defer rel.mu.Unlock()
	assert.Equal(t, s.Code, rel.released[white.UserID])
	assert.Equal(t, s.Code, rel.released[black.UserID])
}

func TestFinishedCounterTracksTerminalSessions(t *testing.T) {
	r := testRegistry(nil)
	assert.Equal(t, 0, r.Finished())

	s, err := r.Create(time.Minute)
	require.NoError(t, err)
	white := humanSeat(chessrules.White, "alice")
	require.NoError(t, s.AddColoredSeat(white))
	require.NoError(t, s.AddColoredSeat(humanSeat(chessrules.Black, "bob")))

	require.NoError(t, s.Resign(white.UserID))
	assert.Eventually(t, func() bool {
		return r.Finished() == 1
	}, time.Second, 5*time.Millisecond)

	// The session is still registered while it lingers for a rematch.
	assert.Equal(t, 1, r.Count())
}

func TestSweepEvictsStaleSessions(t *testing.T) {
	r := testRegistry(nil)

	forming, err := r.Create(time.Minute)
	require.NoError(t, err)

	done, err := r.Create(time.Minute)
	require.NoError(t, err)
	require.NoError(t, done.AddColoredSeat(humanSeat(chessrules.White, "alice")))
	require.NoError(t, done.AddColoredSeat(humanSeat(chessrules.Black, "bob")))
	done.Mu.Lock()
	done.end(ReasonAgreedDraw, "")
	done.Mu.Unlock()

	live, err := r.Create(time.Minute)
	require.NoError(t, err)
	require.NoError(t, live.AddColoredSeat(humanSeat(chessrules.White, "carol")))
	require.NoError(t, live.AddColoredSeat(humanSeat(chessrules.Black, "dave")))

	r.sweep(time.Now().Add(100 * time.Millisecond))

	_, err = r.Get(forming.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = r.Get(done.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = r.Get(live.Code)
	assert.NoError(t, err)
}
