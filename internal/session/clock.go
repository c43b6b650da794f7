// internal/session/clock.go
package session

import (
	"time"

	"github.com/chesshall/arbiter/internal/chessrules"
)

// clockSyncEvery bounds how often the registry ticker broadcasts clock_sync;
// the clock itself is recomputed on every tick.
const clockSyncEvery = 1 * time.Second

// applyElapsed charges wall time since LastTick to the running side, floors
// both remainders at zero and resets LastTick. It never flips the flag;
// callers handle expiry. Assumes lock held.
func (s *Session) applyElapsed(now time.Time) {
	if s.Clock.Running == "" {
		s.Clock.LastTick = now
		return
	}
	elapsed := now.Sub(s.Clock.LastTick)
	if elapsed <= 0 {
		return
	}
	switch s.Clock.Running {
	case chessrules.White:
		s.Clock.WhiteRemaining -= elapsed
	case chessrules.Black:
		s.Clock.BlackRemaining -= elapsed
	}
	if s.Clock.WhiteRemaining < 0 {
		s.Clock.WhiteRemaining = 0
	}
	if s.Clock.BlackRemaining < 0 {
		s.Clock.BlackRemaining = 0
	}
	s.Clock.LastTick = now
}

// Tick is driven by the registry's shared ticker. It charges elapsed time,
// resolves flag falls and periodically rebroadcasts remaining times so
// clients cannot drift. Timeout is decided here, on the authoritative clock:
// a move that loses the race to this tick is rejected by ApplyMove against
// the already-terminal state.
func (s *Session) Tick(now time.Time) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusActive {
		return
	}
	s.applyElapsed(now)

	if s.Clock.Running != "" && s.Clock.remaining(s.Clock.Running) <= 0 {
		loser := s.Clock.Running
		s.end(ReasonTimeout, loser.Opponent())
		return
	}

	if now.Sub(s.lastClockSync) >= clockSyncEvery {
		s.lastClockSync = now
		s.fireEvent(Event{Type: EventClockSync, Payload: map[string]interface{}{
			"whiteMs": s.Clock.WhiteRemaining.Milliseconds(),
			"blackMs": s.Clock.BlackRemaining.Milliseconds(),
			"running": string(s.Clock.Running),
		}})
	}
}
