// internal/reservation/reservation.go
package reservation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActiveSessionStore is the durable mirror of reservations. It is consulted
// on a local miss so a restarted process does not double-book an identity the
// store still shows as in-game, and written through best-effort on changes.
type ActiveSessionStore interface {
	GetActiveSession(ctx context.Context, userID uuid.UUID) (string, error)
	SetActiveSession(ctx context.Context, userID uuid.UUID, roomCode string) error
}

// Service guarantees an identity holds at most one live session at a time.
// The in-memory map under the mutex is the atomicity point: the first caller
// to set a reservation wins, concurrent losers observe the existing one.
type Service struct {
	mu    sync.Mutex
	held  map[uuid.UUID]string // userID -> room code
	seen  map[uuid.UUID]bool   // identities this process has arbitrated
	store ActiveSessionStore   // nil => memory only (tests, guests-only setups)
}

// New returns a reservation service mirrored into store. A nil store is
// allowed and keeps reservations purely in memory.
func New(store ActiveSessionStore) *Service {
	return &Service{
		held:  make(map[uuid.UUID]string),
		seen:  make(map[uuid.UUID]bool),
		store: store,
	}
}

// TryReserve attempts to bind userID to roomCode. It returns true when this
// call acquired the reservation; false when the identity already holds one
// (including the same room — callers re-reserving a room they hold should
// treat that as success via Holds).
func (s *Service) TryReserve(ctx context.Context, userID uuid.UUID, roomCode string) bool {
	s.mu.Lock()
	if _, ok := s.held[userID]; ok {
		s.mu.Unlock()
		return false
	}

	// Local miss: the durable store may still know about a live session from
	// before a restart. Once this process has arbitrated the identity, memory
	// is authoritative: the durable clear is written back asynchronously and
	// may lag a reservation that was just released here.
	if s.store != nil && !s.seen[userID] {
		if durable, err := s.durableLookup(ctx, userID); err == nil && durable != "" && durable != roomCode {
			s.held[userID] = durable
			s.seen[userID] = true
			s.mu.Unlock()
			return false
		}
	}

	s.held[userID] = roomCode
	s.seen[userID] = true
	s.mu.Unlock()

	s.persist(userID, roomCode)
	return true
}

// Holds reports whether userID currently holds a reservation for roomCode.
func (s *Service) Holds(userID uuid.UUID, roomCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[userID] == roomCode
}

// Release clears the reservation, but only if it still points at roomCode:
// a stale release from a dead session must not free a newer reservation.
// Releasing an identity that holds nothing is a no-op.
func (s *Service) Release(userID uuid.UUID, roomCode string) {
	s.mu.Lock()
	current, ok := s.held[userID]
	if !ok || current != roomCode {
		s.mu.Unlock()
		return
	}
	delete(s.held, userID)
	s.mu.Unlock()

	s.persist(userID, "")
}

// Revoke forcibly drops whatever reservation the identity holds. Used only as
// the defensive response to an observed invariant violation.
func (s *Service) Revoke(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.held, userID)
	s.mu.Unlock()
	s.persist(userID, "")
}

func (s *Service) durableLookup(ctx context.Context, userID uuid.UUID) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.GetActiveSession(lookupCtx, userID)
}

// persist mirrors the reservation into the durable store. Failures are logged
// and absorbed: memory stays authoritative for the life of the process.
func (s *Service) persist(userID uuid.UUID, roomCode string) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.store.SetActiveSession(ctx, userID, roomCode); err != nil {
			log.Printf("reservation: failed to persist active session for %s: %v", userID, err)
		}
	}()
}
