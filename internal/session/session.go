// internal/session/session.go
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/chesshall/arbiter/internal/chessrules"
	"github.com/chesshall/arbiter/internal/engine"
	"github.com/chesshall/arbiter/internal/rating"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusForming  Status = "forming"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusTerminal Status = "terminal"
)

// Reason explains why a session reached terminal.
type Reason string

const (
	ReasonCheckmate            = Reason(chessrules.OutcomeCheckmate)
	ReasonStalemate            = Reason(chessrules.OutcomeStalemate)
	ReasonInsufficientMaterial = Reason(chessrules.OutcomeInsufficientMaterial)
	ReasonRepetition           = Reason(chessrules.OutcomeRepetition)
	ReasonResignation          Reason = "resignation"
	ReasonTimeout              Reason = "timeout"
	ReasonAgreedDraw           Reason = "agreed-draw"
	ReasonAbandonment          Reason = "abandonment"
	ReasonEngineFailure        Reason = "engine-failure"
)

// SeatKind tags the participant variant bound to a seat. Every call site
// switches on this; nothing infers bot-ness from names.
type SeatKind int

const (
	SeatHuman SeatKind = iota
	SeatBot
	SeatSpectator
)

func (k SeatKind) String() string {
	switch k {
	case SeatHuman:
		return "human"
	case SeatBot:
		return "bot"
	case SeatSpectator:
		return "spectator"
	}
	return "unknown"
}

// Seat is the durable participant slot in a session. Color and move rights
// persist across reconnects; ConnID/Conn are rebound each connection.
type Seat struct {
	Kind     SeatKind
	UserID   uuid.UUID // uuid.Nil for bots
	Username string
	Guest    bool

	Color chessrules.Color // "" for spectators

	ConnID    uuid.UUID
	Conn      *websocket.Conn
	Connected bool

	Rating    int
	HasRating bool

	EngineLevel int // bot seats only

	RematchAccepted bool
}

// ClockState tracks remaining time per side. At most one side runs at any
// instant, and never outside StatusActive.
type ClockState struct {
	WhiteRemaining time.Duration
	BlackRemaining time.Duration
	Running        chessrules.Color // "" when stopped
	LastTick       time.Time
}

func (c *ClockState) remaining(color chessrules.Color) time.Duration {
	if color == chessrules.White {
		return c.WhiteRemaining
	}
	return c.BlackRemaining
}

// Errors reported back to the originating connection as rejected intents.
// None of them mutate session state.
var (
	ErrSessionTerminal = errors.New("session already ended")
	ErrSessionNotLive  = errors.New("session is not in play")
	ErrNotSeated       = errors.New("no seat for this identity")
	ErrSpectator       = errors.New("spectators cannot act on the board")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrNoPendingDraw   = errors.New("no draw offer pending")
	ErrNotTerminal     = errors.New("game is still in progress")
	ErrNoOpponent      = errors.New("no connected opponent")
	ErrSeatTaken       = errors.New("color already seated")
)

// Archive receives exactly one terminal snapshot per finished human game.
type Archive interface {
	SaveFinishedSession(ctx context.Context, roomCode string, snap Snapshot) error
}

// RatingStore applies rating deltas after rated games.
type RatingStore interface {
	GetRatingState(ctx context.Context, userID uuid.UUID) (rating.PlayerState, error)
	AdjustRating(ctx context.Context, userID uuid.UUID, delta int) error
}

// Notifier is fire-and-forget; gameplay paths only enqueue, never await.
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]interface{})
}

// Config carries the per-registry tunables sessions need.
type Config struct {
	GracePeriod       time.Duration // disconnect grace before abandonment
	FirstMoveDeadline time.Duration // abort window for a game nobody opens
	ChatLogCap        int
}

// Session holds the entire authoritative state for one live game. All
// exported methods lock; lower-case helpers assume the lock is held.
type Session struct {
	Code       string
	CreatedAt  time.Time
	TimeBudget time.Duration // per side

	Seats  []*Seat
	Board  *chessrules.Board
	Moves  []MoveRecord
	Clock  ClockState
	Status Status
	Reason Reason
	Winner chessrules.Color

	// PendingDraw is the color of the seat whose offer is outstanding; a
	// fresh offer supersedes the previous one.
	PendingDraw chessrules.Color

	Chat []ChatMessage

	Mu sync.Mutex

	// Named deferred actions keyed by purpose; cancelled explicitly by the
	// transitions that invalidate them.
	timers map[string]*time.Timer

	// botGen invalidates in-flight engine requests once the state they were
	// scheduled against has changed.
	botGen    int
	botCancel context.CancelFunc

	cfg      Config
	provider engine.MoveProvider
	archive  Archive
	ratings  RatingStore
	notifier Notifier

	// BroadcastFn sends an event to every connected subscriber of this
	// session. BroadcastToSeatFn targets one connection. Both are injected by
	// the gateway; nil means no delivery (tests swap in collectors).
	BroadcastFn       func(ev Event)
	BroadcastToSeatFn func(connID uuid.UUID, ev Event)

	// OnEnd is invoked (outside the lock) exactly once when the session goes
	// terminal; the registry counts finished games through it.
	OnEnd func(s *Session)

	endNotified   bool
	lastClockSync time.Time
	LastTouched   time.Time
}

// timer purposes
const (
	timerFirstMove = "firstmove"
	timerBotMove   = "botmove"
)

func timerDisconnect(c chessrules.Color) string { return "disconnect:" + string(c) }

// New builds an empty session in StatusForming. The registry assigns the room
// code and seats.
func New(code string, budget time.Duration, cfg Config, provider engine.MoveProvider, archive Archive, ratings RatingStore, notifier Notifier) *Session {
	if cfg.ChatLogCap <= 0 {
		cfg.ChatLogCap = 50
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.FirstMoveDeadline <= 0 {
		cfg.FirstMoveDeadline = 60 * time.Second
	}
	return &Session{
		Code:        code,
		CreatedAt:   time.Now(),
		TimeBudget:  budget,
		Board:       chessrules.NewBoard(),
		Status:      StatusForming,
		timers:      make(map[string]*time.Timer),
		cfg:         cfg,
		provider:    provider,
		archive:     archive,
		ratings:     ratings,
		notifier:    notifier,
		LastTouched: time.Now(),
	}
}

// AddColoredSeat seats a participant on a color. The session transitions to
// active the instant both colors are filled.
func (s *Session) AddColoredSeat(seat *Seat) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status == StatusTerminal {
		return ErrSessionTerminal
	}
	for _, existing := range s.Seats {
		if existing.Color == seat.Color && existing.Color != "" {
			return ErrSeatTaken
		}
	}
	s.Seats = append(s.Seats, seat)
	s.touch()

	if s.Status == StatusForming && s.coloredSeatCount() == 2 {
		s.startGame()
	}
	return nil
}

// AddSpectator attaches a watch-only seat. An identity that already has a
// seat keeps it; rejoining must not pile up duplicates.
func (s *Session) AddSpectator(seat *Seat) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.seatByUser(seat.UserID) != nil {
		return
	}
	seat.Kind = SeatSpectator
	seat.Color = ""
	s.Seats = append(s.Seats, seat)
	s.touch()
}

// startGame flips forming -> active: clock armed with the full budget, white
// to move, first-move deadline scheduled. Assumes lock held.
func (s *Session) startGame() {
	s.Status = StatusActive
	s.Clock = ClockState{
		WhiteRemaining: s.TimeBudget,
		BlackRemaining: s.TimeBudget,
		Running:        s.Board.Turn(),
		LastTick:       time.Now(),
	}
	log.Printf("session %s: game started (%s per side)", s.Code, s.TimeBudget)

	s.scheduleTimer(timerFirstMove, s.cfg.FirstMoveDeadline, s.firstMoveExpired)
	s.broadcastSnapshotAll()
	s.maybeScheduleBotMove()
}

// ApplyMove validates and applies one move for the identity behind connID.
// Acceptance order is serialization order: a move racing a clock timeout or a
// concurrent earlier move sees the updated state and is rejected, never
// reordered.
func (s *Session) ApplyMove(userID uuid.UUID, moveStr string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status == StatusTerminal {
		return ErrSessionTerminal
	}
	if s.Status != StatusActive {
		return ErrSessionNotLive
	}
	seat := s.seatByUser(userID)
	if seat == nil {
		return ErrNotSeated
	}
	if seat.Kind == SeatSpectator {
		return ErrSpectator
	}
	if seat.Color != s.Board.Turn() {
		return ErrNotYourTurn
	}

	res, err := s.Board.Apply(moveStr)
	if err != nil {
		return err
	}
	s.recordMove(seat.Color, res)
	return nil
}

// recordMove appends an accepted move, flips the clock, clears the mover's
// draw offer and evaluates terminal conditions. Assumes lock held.
func (s *Session) recordMove(mover chessrules.Color, res chessrules.MoveResult) {
	s.Moves = append(s.Moves, MoveRecord{
		Index: len(s.Moves),
		UCI:   res.UCI,
		SAN:   res.SAN,
		FEN:   res.FEN,
	})
	s.touch()
	s.cancelTimer(timerFirstMove)

	// Stop the mover's clock, start the opponent's.
	now := time.Now()
	s.applyElapsed(now)
	s.Clock.Running = mover.Opponent()
	s.Clock.LastTick = now

	// A pending offer from the mover dies with the move; the opponent's
	// offer survives so it can still be accepted.
	if s.PendingDraw == mover {
		s.PendingDraw = ""
	}

	s.fireEvent(Event{Type: EventMoveApplied, Payload: map[string]interface{}{
		"index":   len(s.Moves) - 1,
		"uci":     res.UCI,
		"san":     res.SAN,
		"fen":     res.FEN,
		"by":      string(mover),
		"toMove":  string(s.Board.Turn()),
		"whiteMs": s.Clock.WhiteRemaining.Milliseconds(),
		"blackMs": s.Clock.BlackRemaining.Milliseconds(),
	}})

	if res.Outcome != chessrules.OutcomeNone {
		s.end(Reason(res.Outcome), res.Winner)
		return
	}
	s.maybeScheduleBotMove()
}

// OfferDraw records a pending offer from the seat's color, superseding any
// prior offer of either side.
func (s *Session) OfferDraw(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat, err := s.coloredSeatForAction(userID)
	if err != nil {
		return err
	}
	s.PendingDraw = seat.Color
	s.touch()
	s.fireEvent(Event{Type: EventDrawOffer, Payload: map[string]interface{}{"by": string(seat.Color)}})
	return nil
}

// AcceptDraw resolves the game as an agreed draw. Only the non-offering side
// can accept.
func (s *Session) AcceptDraw(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat, err := s.coloredSeatForAction(userID)
	if err != nil {
		return err
	}
	if s.PendingDraw == "" || s.PendingDraw == seat.Color {
		return ErrNoPendingDraw
	}
	s.PendingDraw = ""
	s.end(ReasonAgreedDraw, "")
	return nil
}

// DeclineDraw clears the opponent's pending offer.
func (s *Session) DeclineDraw(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat, err := s.coloredSeatForAction(userID)
	if err != nil {
		return err
	}
	if s.PendingDraw == "" || s.PendingDraw == seat.Color {
		return ErrNoPendingDraw
	}
	s.PendingDraw = ""
	s.touch()
	s.fireEvent(Event{Type: EventDrawDecline, Payload: map[string]interface{}{"by": string(seat.Color)}})
	return nil
}

// Resign forfeits immediately — but only when there is a connected opposing
// colored seat to award the win to; otherwise the session is left open.
func (s *Session) Resign(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat, err := s.coloredSeatForAction(userID)
	if err != nil {
		return err
	}
	opp := s.seatByColor(seat.Color.Opponent())
	if opp == nil || (opp.Kind == SeatHuman && !opp.Connected) {
		return ErrNoOpponent
	}
	s.end(ReasonResignation, seat.Color.Opponent())
	return nil
}

// RequestRematch flags the caller's seat; proposing counts as accepting.
// Play restarts once every colored seat has flagged.
func (s *Session) RequestRematch(userID uuid.UUID) error {
	return s.rematchVote(userID)
}

// AcceptRematch is the same vote as RequestRematch under a different intent
// name; partial acceptance is broadcast but does not start play.
func (s *Session) AcceptRematch(userID uuid.UUID) error {
	return s.rematchVote(userID)
}

func (s *Session) rematchVote(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusTerminal {
		return ErrNotTerminal
	}
	seat := s.seatByUser(userID)
	if seat == nil {
		return ErrNotSeated
	}
	if seat.Kind == SeatSpectator {
		return ErrSpectator
	}
	seat.RematchAccepted = true
	s.touch()

	// Bot seats consent implicitly.
	allIn := true
	for _, st := range s.Seats {
		if st.Color == "" {
			continue
		}
		if st.Kind == SeatHuman && !st.RematchAccepted {
			allIn = false
		}
	}

	s.fireEvent(Event{Type: EventRematch, Payload: map[string]interface{}{
		"accepted": s.rematchAcceptedColors(),
		"starting": allIn,
	}})

	if allIn {
		s.resetForRematch()
	}
	return nil
}

// DeclineRematch clears all rematch flags.
func (s *Session) DeclineRematch(userID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusTerminal {
		return ErrNotTerminal
	}
	seat := s.seatByUser(userID)
	if seat == nil {
		return ErrNotSeated
	}
	for _, st := range s.Seats {
		st.RematchAccepted = false
	}
	s.touch()
	s.fireEvent(Event{Type: EventRematch, Payload: map[string]interface{}{
		"accepted": []string{},
		"declined": true,
	}})
	return nil
}

// resetForRematch swaps colors, reseeds the board, resets clocks to the
// original budget and returns to active. Assumes lock held.
func (s *Session) resetForRematch() {
	for _, st := range s.Seats {
		st.RematchAccepted = false
		if st.Color != "" {
			st.Color = st.Color.Opponent()
		}
	}
	s.Board = chessrules.NewBoard()
	s.Moves = nil
	s.PendingDraw = ""
	s.Reason = ""
	s.Winner = ""
	s.endNotified = false
	log.Printf("session %s: rematch starting, colors swapped", s.Code)
	s.startGame()
}

// SendChat appends to the bounded chat log, dropping the oldest entry past
// the cap, and broadcasts it.
func (s *Session) SendChat(userID uuid.UUID, text string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat := s.seatByUser(userID)
	if seat == nil {
		return ErrNotSeated
	}
	msg := ChatMessage{From: seat.Username, Text: text, At: time.Now()}
	s.Chat = append(s.Chat, msg)
	if len(s.Chat) > s.cfg.ChatLogCap {
		s.Chat = s.Chat[len(s.Chat)-s.cfg.ChatLogCap:]
	}
	s.touch()
	s.fireEvent(Event{Type: EventChat, Payload: map[string]interface{}{
		"from": msg.From,
		"text": msg.Text,
		"at":   msg.At.UnixMilli(),
	}})
	return nil
}

// HandleDisconnect marks the identity's seat offline, pauses play and starts
// the abandonment grace timer.
func (s *Session) HandleDisconnect(userID uuid.UUID, connID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat := s.seatByUser(userID)
	if seat == nil || seat.ConnID != connID {
		// A newer connection already rebound this seat; the stale close is
		// not a disconnect.
		return
	}
	if !seat.Connected {
		return
	}
	seat.Connected = false
	seat.Conn = nil
	s.touch()
	log.Printf("session %s: %s (%s) disconnected", s.Code, seat.Username, seat.Kind)

	s.fireEvent(Event{Type: EventPresence, Payload: map[string]interface{}{
		"username": seat.Username,
		"color":    string(seat.Color),
		"online":   false,
	}})

	if seat.Color == "" || s.Status == StatusTerminal || s.Status == StatusForming {
		return
	}

	// Halt the clock while the player is away; the reconnect round-trip must
	// observe unchanged remaining times.
	if s.Status == StatusActive {
		s.applyElapsed(time.Now())
		s.Clock.Running = ""
		s.Status = StatusPaused
	}

	color := seat.Color
	s.scheduleTimer(timerDisconnect(color), s.cfg.GracePeriod, func() {
		s.graceExpired(color)
	})
}

// HandleReconnect rebinds the seat's connection by verified identity only and
// replays the authoritative snapshot to the reconnecting connection.
func (s *Session) HandleReconnect(userID uuid.UUID, connID uuid.UUID, conn *websocket.Conn) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	seat := s.seatByUser(userID)
	if seat == nil {
		return ErrNotSeated
	}
	seat.ConnID = connID
	seat.Conn = conn
	seat.Connected = true
	s.touch()

	if seat.Color != "" {
		s.cancelTimer(timerDisconnect(seat.Color))
		if s.Status == StatusPaused && s.allColoredConnected() {
			s.Status = StatusActive
			s.Clock.Running = s.Board.Turn()
			s.Clock.LastTick = time.Now()
		}
	}

	log.Printf("session %s: %s reconnected", s.Code, seat.Username)
	s.fireEvent(Event{Type: EventPresence, Payload: map[string]interface{}{
		"username": seat.Username,
		"color":    string(seat.Color),
		"online":   true,
	}})
	s.sendSnapshot(connID)
	return nil
}

// graceExpired is the disconnect timer callback: resolve as abandonment only
// if the seat is still offline, the game is still live, and an online
// opposing colored seat exists. Otherwise the session stays open.
func (s *Session) graceExpired(color chessrules.Color) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusActive && s.Status != StatusPaused {
		return
	}
	seat := s.seatByColor(color)
	if seat == nil || seat.Connected {
		return
	}
	opp := s.seatByColor(color.Opponent())
	oppPresent := opp != nil && (opp.Kind == SeatBot || opp.Connected)
	if !oppPresent {
		log.Printf("session %s: %s abandoned but no adversary online; leaving open", s.Code, seat.Username)
		return
	}
	log.Printf("session %s: %s abandoned, awarding %s", s.Code, seat.Username, color.Opponent())
	s.end(ReasonAbandonment, color.Opponent())
}

// firstMoveExpired aborts a game nobody opened: abandonment against the side
// that never moved, following the same no-adversary rule as disconnects.
func (s *Session) firstMoveExpired() {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusActive || len(s.Moves) > 0 {
		return
	}
	idle := s.Board.Turn()
	opp := s.seatByColor(idle.Opponent())
	if opp == nil || (opp.Kind == SeatHuman && !opp.Connected) {
		return
	}
	log.Printf("session %s: no opening move within %s, awarding %s", s.Code, s.cfg.FirstMoveDeadline, idle.Opponent())
	s.end(ReasonAbandonment, idle.Opponent())
}

// end performs the one-way transition to terminal: clocks stopped, timers
// cancelled, exactly one archive write and one rating adjustment scheduled —
// both skipped for games with a computer seat. Assumes lock held.
func (s *Session) end(reason Reason, winner chessrules.Color) {
	if s.Status == StatusTerminal {
		return
	}
	if s.Status == StatusActive {
		s.applyElapsed(time.Now())
	}
	s.Status = StatusTerminal
	s.Reason = reason
	s.Winner = winner
	s.Clock.Running = ""
	s.cancelAllTimers()
	if s.botCancel != nil {
		s.botCancel()
		s.botCancel = nil
	}
	s.botGen++
	s.touch()
	log.Printf("session %s: terminal (%s), winner=%q", s.Code, reason, winner)

	s.fireEvent(Event{Type: EventGameOver, Payload: map[string]interface{}{
		"reason":  string(reason),
		"winner":  string(winner),
		"whiteMs": s.Clock.WhiteRemaining.Milliseconds(),
		"blackMs": s.Clock.BlackRemaining.Milliseconds(),
	}})

	snap := s.snapshot()
	hasBot := s.hasBotSeat()
	white := s.seatByColor(chessrules.White)
	black := s.seatByColor(chessrules.Black)

	if !hasBot && !s.endNotified {
		s.endNotified = true
		go s.persistOutcome(snap, white, black, winner, reason)
	}

	for _, seat := range s.Seats {
		if seat.Kind == SeatHuman && !seat.Guest {
			s.notify(seat.UserID, "game_over", map[string]interface{}{
				"roomCode": s.Code,
				"reason":   string(reason),
				"winner":   string(winner),
			})
		}
	}

	if s.OnEnd != nil {
		cb := s.OnEnd
		go cb(s)
	}
}

// persistOutcome runs off the lock: the game is authoritatively over in
// memory whatever happens to storage, so failures are logged and absorbed.
func (s *Session) persistOutcome(snap Snapshot, white, black *Seat, winner chessrules.Color, reason Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.archive != nil {
		if err := s.archive.SaveFinishedSession(ctx, snap.RoomCode, snap); err != nil {
			log.Printf("session %s: archive write failed (outcome stands): %v", snap.RoomCode, err)
		}
	}

	if s.ratings == nil || white == nil || black == nil {
		return
	}
	if white.Guest || black.Guest {
		return // nothing to adjust without profiles
	}

	var score float64
	switch winner {
	case chessrules.White:
		score = rating.ScoreWin
	case chessrules.Black:
		score = rating.ScoreLoss
	default:
		score = rating.ScoreDraw
	}

	ws, err := s.ratings.GetRatingState(ctx, white.UserID)
	if err != nil {
		log.Printf("session %s: rating lookup failed for white: %v", snap.RoomCode, err)
		return
	}
	bs, err := s.ratings.GetRatingState(ctx, black.UserID)
	if err != nil {
		log.Printf("session %s: rating lookup failed for black: %v", snap.RoomCode, err)
		return
	}
	dw, db := rating.Deltas1v1(ws, bs, score)
	if err := s.ratings.AdjustRating(ctx, white.UserID, dw); err != nil {
		log.Printf("session %s: rating adjust failed for white: %v", snap.RoomCode, err)
	}
	if err := s.ratings.AdjustRating(ctx, black.UserID, db); err != nil {
		log.Printf("session %s: rating adjust failed for black: %v", snap.RoomCode, err)
	}
}

// --- seat helpers, all assume lock held ---

func (s *Session) seatByUser(userID uuid.UUID) *Seat {
	for _, seat := range s.Seats {
		if seat.Kind != SeatBot && seat.UserID == userID {
			return seat
		}
	}
	return nil
}

func (s *Session) seatByColor(color chessrules.Color) *Seat {
	for _, seat := range s.Seats {
		if seat.Color == color {
			return seat
		}
	}
	return nil
}

func (s *Session) coloredSeatForAction(userID uuid.UUID) (*Seat, error) {
	if s.Status == StatusTerminal {
		return nil, ErrSessionTerminal
	}
	if s.Status == StatusForming {
		return nil, ErrSessionNotLive
	}
	seat := s.seatByUser(userID)
	if seat == nil {
		return nil, ErrNotSeated
	}
	if seat.Kind == SeatSpectator {
		return nil, ErrSpectator
	}
	return seat, nil
}

func (s *Session) coloredSeatCount() int {
	n := 0
	for _, seat := range s.Seats {
		if seat.Color != "" {
			n++
		}
	}
	return n
}

func (s *Session) allColoredConnected() bool {
	for _, seat := range s.Seats {
		if seat.Color == "" {
			continue
		}
		if seat.Kind == SeatHuman && !seat.Connected {
			return false
		}
	}
	return true
}

func (s *Session) hasBotSeat() bool {
	for _, seat := range s.Seats {
		if seat.Kind == SeatBot {
			return true
		}
	}
	return false
}

func (s *Session) rematchAcceptedColors() []string {
	var out []string
	for _, seat := range s.Seats {
		if seat.Color != "" && seat.RematchAccepted {
			out = append(out, string(seat.Color))
		}
	}
	return out
}

func (s *Session) touch() { s.LastTouched = time.Now() }

// --- event plumbing, assumes lock held ---

func (s *Session) fireEvent(ev Event) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(ev)
	}
}

func (s *Session) sendSnapshot(connID uuid.UUID) {
	if s.BroadcastToSeatFn == nil {
		return
	}
	snap := s.snapshot()
	s.BroadcastToSeatFn(connID, Event{Type: EventSnapshot, Snapshot: &snap})
}

func (s *Session) broadcastSnapshotAll() {
	if s.BroadcastToSeatFn == nil {
		return
	}
	snap := s.snapshot()
	for _, seat := range s.Seats {
		if seat.Connected && seat.ConnID != uuid.Nil {
			s.BroadcastToSeatFn(seat.ConnID, Event{Type: EventSnapshot, Snapshot: &snap})
		}
	}
}

// SnapshotFor returns the current authoritative snapshot.
func (s *Session) SnapshotFor() Snapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		RoomCode:  s.Code,
		Status:    s.Status,
		Reason:    s.Reason,
		Winner:    string(s.Winner),
		CreatedAt: s.CreatedAt,
		FEN:       s.Board.FEN(),
		Moves:     append([]MoveRecord(nil), s.Moves...),
		Clock: ClockView{
			WhiteMillis: s.Clock.WhiteRemaining.Milliseconds(),
			BlackMillis: s.Clock.BlackRemaining.Milliseconds(),
			Running:     s.Clock.Running,
		},
		Chat: append([]ChatMessage(nil), s.Chat...),
	}
	if s.Status == StatusActive || s.Status == StatusPaused {
		snap.ToMove = string(s.Board.Turn())
	}
	snap.Pending.DrawOfferBy = string(s.PendingDraw)
	snap.Pending.RematchAccepted = s.rematchAcceptedColors()
	for _, seat := range s.Seats {
		sv := SeatView{
			Kind:     seat.Kind.String(),
			Username: seat.Username,
			Color:    seat.Color,
			Online:   seat.Connected || seat.Kind == SeatBot,
		}
		if seat.Kind != SeatBot {
			sv.UserID = seat.UserID
		}
		if seat.Kind == SeatHuman && seat.HasRating {
			sv.Rating = seat.Rating
		}
		snap.Seats = append(snap.Seats, sv)
	}
	return snap
}

func (s *Session) notify(userID uuid.UUID, event string, payload map[string]interface{}) {
	if s.notifier != nil {
		s.notifier.Notify(userID, event, payload)
	}
}
