// internal/session/registry.go
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/engine"
)

// Releaser frees an identity's session reservation once the session itself
// is gone from the registry. Rematches keep reservations alive, so release
// happens at removal, not at terminal.
type Releaser interface {
	Release(userID uuid.UUID, roomCode string)
}

// RegistryConfig groups the sweep tunables alongside the per-session ones.
type RegistryConfig struct {
	Session Config

	ClockInterval time.Duration // shared tick driving every active clock
	TerminalTTL   time.Duration // how long finished sessions linger for rematch
	FormingTTL    time.Duration // how long a half-filled room waits
	OrphanTTL     time.Duration // how long a live session survives with every human gone
	SweepInterval time.Duration
}

// Registry owns the map from room code to live session. It is the only
// component that creates or removes sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	finished int

	cfg      RegistryConfig
	provider engine.MoveProvider
	archive  Archive
	ratings  RatingStore
	notifier Notifier
	releaser Releaser
}

var ErrRoomNotFound = errors.New("no session with that room code")

// NewRegistry wires the collaborators every created session shares. Any of
// them may be nil; sessions degrade to in-memory only.
func NewRegistry(cfg RegistryConfig, provider engine.MoveProvider, archive Archive, ratings RatingStore, notifier Notifier, releaser Releaser) *Registry {
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = 500 * time.Millisecond
	}
	if cfg.TerminalTTL <= 0 {
		cfg.TerminalTTL = 10 * time.Minute
	}
	if cfg.FormingTTL <= 0 {
		cfg.FormingTTL = 15 * time.Minute
	}
	if cfg.OrphanTTL <= 0 {
		cfg.OrphanTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		provider: provider,
		archive:  archive,
		ratings:  ratings,
		notifier: notifier,
		releaser: releaser,
	}
}

const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O, 1/I
	roomCodeLength   = 6
	roomCodeRetries  = 5
)

func randomRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// Create allocates a fresh session under a collision-checked room code.
func (r *Registry) Create(budget time.Duration) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < roomCodeRetries; i++ {
		code, err := randomRoomCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.sessions[code]; taken {
			continue
		}
		s := New(code, budget, r.cfg.Session, r.provider, r.archive, r.ratings, r.notifier)
		s.OnEnd = r.noteFinished
		r.sessions[code] = s
		log.Printf("registry: created session %s (%s per side)", code, budget)
		return s, nil
	}
	return nil, errors.New("room code space exhausted")
}

// BotCapable reports whether created sessions can serve computer seats.
func (r *Registry) BotCapable() bool {
	return r.provider != nil
}

// Get looks up a live session by room code.
func (r *Registry) Get(code string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Remove drops the session from the registry and releases every human
// seat's reservation.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	s, ok := r.sessions[code]
	if ok {
		delete(r.sessions, code)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.releaseSeats(s)
}

func (r *Registry) releaseSeats(s *Session) {
	if r.releaser == nil {
		return
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	for _, seat := range s.Seats {
		if seat.Kind == SeatHuman && seat.Color != "" {
			r.releaser.Release(seat.UserID, s.Code)
		}
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) noteFinished(*Session) {
	r.mu.Lock()
	r.finished++
	r.mu.Unlock()
}

// Finished reports how many sessions have gone terminal since startup.
func (r *Registry) Finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Registry) snapshotSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// StartClock runs the shared tick loop until ctx is cancelled. One ticker
// serves every session; each Tick takes that session's own lock.
func (r *Registry) StartClock(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ClockInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, s := range r.snapshotSessions() {
					s.Tick(now)
				}
			}
		}
	}()
}

// StartJanitor periodically evicts sessions nobody will come back to:
// terminal ones past the rematch window and forming ones that never filled.
func (r *Registry) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

func (r *Registry) sweep(now time.Time) {
	for _, s := range r.snapshotSessions() {
		s.Mu.Lock()
		status := s.Status
		idle := now.Sub(s.LastTouched)
		code := s.Code
		humansOnline := false
		for _, seat := range s.Seats {
			if seat.Kind == SeatHuman && seat.Connected {
				humansOnline = true
			}
		}
		s.Mu.Unlock()

		// Orphaned live sessions stay open (no result is awarded) but are
		// eventually collected once nobody has been back for a while.
		expired := (status == StatusTerminal && idle > r.cfg.TerminalTTL) ||
			(status == StatusForming && idle > r.cfg.FormingTTL) ||
			((status == StatusActive || status == StatusPaused) && !humansOnline && idle > r.cfg.OrphanTTL)
		if expired {
			log.Printf("registry: sweeping %s session %s (idle %s)", status, code, idle.Truncate(time.Second))
			r.Remove(code)
		}
	}
}
