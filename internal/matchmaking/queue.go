// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/chessrules"
)

// Ticket is one identity waiting for an opponent. EnqueuedAt is preserved
// across a rollback re-enqueue so a player bounced by someone else's stale
// reservation keeps their place in line.
type Ticket struct {
	UserID    uuid.UUID
	Username  string
	Guest     bool
	Rating    int
	HasRating bool

	ColorPref  chessrules.Color // "" means indifferent
	Budget     time.Duration
	EnqueuedAt time.Time
}

// Reserver is the session-reservation service: pairing must hold both
// reservations before a match is announced.
type Reserver interface {
	TryReserve(ctx context.Context, userID uuid.UUID, roomCode string) bool
	Release(userID uuid.UUID, roomCode string)
}

// RoomFactory opens an empty room for a paired match and tears it back down
// when a reservation falls through after the room was made.
type RoomFactory interface {
	Open(budget time.Duration) (roomCode string, err error)
	Close(roomCode string)
}

// Notifier carries queue outcomes to players who are not part of the
// happy path (a failed reservation, for instance).
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]interface{})
}

var (
	ErrAlreadyQueued = errors.New("identity already in the queue")
	ErrNotQueued     = errors.New("identity is not in the queue")
)

const bucketWidth = 25

// widenSteps are the rating tolerances unlocked as a ticket waits; after the
// last step a rated ticket also accepts unknown-rated opponents.
var widenSteps = []int{25, 50, 100, 200, 400, 800, 1600}

// Config tunes the queue sweep.
type Config struct {
	SweepInterval time.Duration
	WidenEvery    time.Duration // wait time per widening step
}

// Queue is a rating-bucketed FIFO matchmaking queue. Pairing happens on a
// periodic sweep; both tickets leave the queue atomically before any
// reservation is attempted.
type Queue struct {
	mu      sync.Mutex
	rated   map[int][]*Ticket // bucket index -> FIFO
	unknown []*Ticket

	cfg      Config
	reserver Reserver
	rooms    RoomFactory
	notifier Notifier

	// OnMatch runs outside the queue lock once both reservations are held;
	// the gateway uses it to seat the players and announce match_found.
	OnMatch func(roomCode string, white, black Ticket)

	rng *rand.Rand
}

// NewQueue wires the pairing collaborators.
func NewQueue(cfg Config, reserver Reserver, rooms RoomFactory, notifier Notifier) *Queue {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.WidenEvery <= 0 {
		cfg.WidenEvery = 5 * time.Second
	}
	return &Queue{
		rated:    make(map[int][]*Ticket),
		cfg:      cfg,
		reserver: reserver,
		rooms:    rooms,
		notifier: notifier,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func bucketOf(rating int) int { return rating / bucketWidth }

// UseRooms installs the room factory. The queue and the gateway reference
// each other, so the factory arrives after construction and must be set
// before the first sweep.
func (q *Queue) UseRooms(rooms RoomFactory) {
	q.rooms = rooms
}

// Join enqueues a ticket. A second join for the same identity is rejected
// rather than moved, so clients cannot reset their own wait.
func (q *Queue) Join(t Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.holdsLocked(t.UserID) {
		return ErrAlreadyQueued
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	q.addLocked(&t)
	log.Printf("matchmaking: %s joined (rated=%v, rating=%d)", t.Username, t.HasRating, t.Rating)
	return nil
}

// Leave removes the identity's ticket.
func (q *Queue) Leave(userID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removeLocked(userID) {
		return ErrNotQueued
	}
	return nil
}

// Size reports how many tickets are waiting.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.unknown)
	for _, fifo := range q.rated {
		n += len(fifo)
	}
	return n
}

// Waiting reports whether the identity has a live ticket.
func (q *Queue) Waiting(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.holdsLocked(userID)
}

// Run sweeps until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Sweep(time.Now())
			}
		}
	}()
}

// Sweep pairs as many compatible tickets as it can find right now. Exported
// so tests drive it deterministically.
func (q *Queue) Sweep(now time.Time) {
	for {
		pair := q.dequeuePair(now)
		if pair == nil {
			return
		}
		if !q.startMatch(pair[0], pair[1]) {
			// Room creation is down; stop churning until the next sweep.
			return
		}
	}
}

// dequeuePair finds the oldest ticket with a compatible partner and removes
// both under one lock hold. Returns nil when nothing can be paired.
func (q *Queue) dequeuePair(now time.Time) []*Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	tickets := q.allLocked()
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].EnqueuedAt.Before(tickets[j].EnqueuedAt)
	})

	for _, t := range tickets {
		partner := q.partnerLocked(t, now)
		if partner == nil {
			continue
		}
		q.removeLocked(t.UserID)
		q.removeLocked(partner.UserID)
		return []*Ticket{t, partner}
	}
	return nil
}

// partnerLocked applies the widening policy for ticket t: the exact rating
// bucket always qualifies, then each unlocked delta in ascending order, then
// (fully widened) the unknown pool. The first window holding a candidate wins,
// so a close opponent is never passed over for an older distant one; within a
// window the FIFO-oldest candidate is taken. Unknown tickets pair among
// themselves immediately and with rated tickets only once the rated side has
// fully widened.
func (q *Queue) partnerLocked(t *Ticket, now time.Time) *Ticket {
	waited := now.Sub(t.EnqueuedAt)
	steps := int(waited / q.cfg.WidenEvery)
	if steps > len(widenSteps) {
		steps = len(widenSteps)
	}

	if !t.HasRating {
		return q.oldestUnknownLocked(t)
	}

	if p := q.oldestInBucketLocked(t); p != nil {
		return p
	}
	for i := 0; i < steps; i++ {
		if p := q.oldestRatedWithinLocked(t, widenSteps[i]); p != nil {
			return p
		}
	}
	if steps == len(widenSteps) {
		return q.oldestUnknownLocked(t)
	}
	return nil
}

func (q *Queue) oldestInBucketLocked(t *Ticket) *Ticket {
	var best *Ticket
	for _, cand := range q.rated[bucketOf(t.Rating)] {
		if cand.UserID == t.UserID || cand.Budget != t.Budget {
			continue
		}
		if best == nil || cand.EnqueuedAt.Before(best.EnqueuedAt) {
			best = cand
		}
	}
	return best
}

func (q *Queue) oldestRatedWithinLocked(t *Ticket, delta int) *Ticket {
	lo := bucketOf(maxInt(0, t.Rating-delta))
	hi := bucketOf(t.Rating + delta)

	var best *Ticket
	for b := lo; b <= hi; b++ {
		for _, cand := range q.rated[b] {
			if cand.UserID == t.UserID {
				continue
			}
			if cand.Budget != t.Budget {
				continue
			}
			if absInt(cand.Rating-t.Rating) > delta {
				continue
			}
			if best == nil || cand.EnqueuedAt.Before(best.EnqueuedAt) {
				best = cand
			}
		}
	}
	return best
}

func (q *Queue) oldestUnknownLocked(t *Ticket) *Ticket {
	for _, cand := range q.unknown {
		if cand.UserID != t.UserID && cand.Budget == t.Budget {
			return cand
		}
	}
	return nil
}

// startMatch opens a room, takes both reservations and hands the pairing to
// OnMatch. Any reservation failure rolls back: the acquired side is released
// and requeued with its original enqueue time, the failed side is told and
// left out of the queue. Returns false only when no room could be opened.
func (q *Queue) startMatch(a, b *Ticket) bool {
	code, err := q.rooms.Open(a.Budget)
	if err != nil {
		log.Printf("matchmaking: room open failed, requeueing both: %v", err)
		q.requeue(a)
		q.requeue(b)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !q.reserver.TryReserve(ctx, a.UserID, code) {
		q.rooms.Close(code)
		q.notifyFailed(a, code)
		q.requeue(b)
		return true
	}
	if !q.reserver.TryReserve(ctx, b.UserID, code) {
		q.reserver.Release(a.UserID, code)
		q.rooms.Close(code)
		q.notifyFailed(b, code)
		q.requeue(a)
		return true
	}

	white, black := q.assignColors(a, b)
	log.Printf("matchmaking: matched %s vs %s in %s", white.Username, black.Username, code)
	if q.OnMatch != nil {
		q.OnMatch(code, *white, *black)
	}
	return true
}

// assignColors honors a single-sided preference; conflicts and mutual
// indifference are settled by coin flip.
func (q *Queue) assignColors(a, b *Ticket) (white, black *Ticket) {
	switch {
	case a.ColorPref == chessrules.White && b.ColorPref != chessrules.White:
		return a, b
	case b.ColorPref == chessrules.White && a.ColorPref != chessrules.White:
		return b, a
	case a.ColorPref == chessrules.Black && b.ColorPref != chessrules.Black:
		return b, a
	case b.ColorPref == chessrules.Black && a.ColorPref != chessrules.Black:
		return a, b
	}
	q.mu.Lock()
	flip := q.rng.Intn(2) == 0
	q.mu.Unlock()
	if flip {
		return a, b
	}
	return b, a
}

func (q *Queue) requeue(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.holdsLocked(t.UserID) {
		return
	}
	q.addLocked(t) // EnqueuedAt untouched: position in line is preserved
}

func (q *Queue) notifyFailed(t *Ticket, code string) {
	log.Printf("matchmaking: reservation failed for %s (already in a session?), dropping from queue", t.Username)
	if q.notifier != nil {
		q.notifier.Notify(t.UserID, "queue_rejected", map[string]interface{}{
			"roomCode": code,
			"reason":   "active session reservation held elsewhere",
		})
	}
}

// --- storage helpers, all assume lock held ---

func (q *Queue) addLocked(t *Ticket) {
	if t.HasRating {
		b := bucketOf(t.Rating)
		q.rated[b] = append(q.rated[b], t)
		return
	}
	q.unknown = append(q.unknown, t)
}

func (q *Queue) removeLocked(userID uuid.UUID) bool {
	for b, fifo := range q.rated {
		for i, t := range fifo {
			if t.UserID == userID {
				q.rated[b] = append(fifo[:i:i], fifo[i+1:]...)
				if len(q.rated[b]) == 0 {
					delete(q.rated, b)
				}
				return true
			}
		}
	}
	for i, t := range q.unknown {
		if t.UserID == userID {
			q.unknown = append(q.unknown[:i:i], q.unknown[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) holdsLocked(userID uuid.UUID) bool {
	for _, fifo := range q.rated {
		for _, t := range fifo {
			if t.UserID == userID {
				return true
			}
		}
	}
	for _, t := range q.unknown {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

func (q *Queue) allLocked() []*Ticket {
	var out []*Ticket
	for _, fifo := range q.rated {
		out = append(out, fifo...)
	}
	out = append(out, q.unknown...)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
