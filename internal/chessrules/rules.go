// internal/chessrules/rules.go
package chessrules

import (
	"errors"
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned for any move the rules reject, whatever the
// notation it arrived in.
var ErrIllegalMove = errors.New("illegal move")

// Color is the side a seat plays. Spectators carry no color.
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Outcome classifies a position once play cannot continue. Values double as
// the terminal reason broadcast to clients, so they are wire-stable strings.
type Outcome string

const (
	OutcomeNone                 Outcome = ""
	OutcomeCheckmate            Outcome = "checkmate"
	OutcomeStalemate            Outcome = "stalemate"
	OutcomeInsufficientMaterial Outcome = "insufficient-material"
	OutcomeRepetition           Outcome = "repetition"
)

// MoveResult reports an accepted move back to the session layer.
type MoveResult struct {
	UCI string
	SAN string
	FEN string

	// Outcome is non-empty when the move ended the game; Winner is only set
	// for checkmate (the mover).
	Outcome Outcome
	Winner  Color
}

// Board wraps one chess game and is the synchronous half of the move
// provider: legality validation and terminal-condition detection. It is not
// safe for concurrent use; the owning session serializes access.
type Board struct {
	game *chess.Game
}

// NewBoard returns a board at the standard start position.
func NewBoard() *Board {
	return &Board{game: chess.NewGame()}
}

// Replay reconstructs a board by applying UCI moves from the start position.
func Replay(movesUCI []string) (*Board, error) {
	b := NewBoard()
	for i, mv := range movesUCI {
		if _, err := b.Apply(mv); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i, mv, err)
		}
	}
	return b, nil
}

// Turn reports which side is to move.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == chess.White {
		return White
	}
	return Black
}

// FEN encodes the current position.
func (b *Board) FEN() string {
	return b.game.FEN()
}

// MovesUCI returns the move history in UCI form.
func (b *Board) MovesUCI() []string {
	moves := b.game.Moves()
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.String())
	}
	return out
}

// Apply validates and plays one move. UCI notation is tried first, then SAN,
// matching what clients actually send. The returned result carries the
// canonical UCI/SAN encodings and any terminal outcome the move produced.
func (b *Board) Apply(moveStr string) (MoveResult, error) {
	raw := strings.TrimSpace(moveStr)
	if raw == "" {
		return MoveResult{}, ErrIllegalMove
	}
	mover := b.Turn()
	pos := b.game.Position()

	var san string
	if mv, err := (chess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		san = chess.AlgebraicNotation{}.Encode(pos, mv)
		if err := b.game.Move(mv, nil); err != nil {
			return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
		}
	} else {
		if err := b.game.PushNotationMove(raw, chess.AlgebraicNotation{}, nil); err != nil {
			return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
		}
		moves := b.game.Moves()
		san = chess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1])
	}

	moves := b.game.Moves()
	last := moves[len(moves)-1]

	res := MoveResult{
		UCI: last.String(),
		SAN: san,
		FEN: b.game.FEN(),
	}
	res.Outcome, res.Winner = b.terminal(mover)
	return res, nil
}

// terminal maps the library's outcome/method onto our reason taxonomy.
// Priority follows the rules: checkmate, stalemate, insufficient material,
// repetition. Resignation and timeout never originate here.
func (b *Board) terminal(mover Color) (Outcome, Color) {
	if b.game.Outcome() == chess.NoOutcome {
		// Threefold repetition is only claimable in the library; the service
		// treats it as immediately terminal, so claim it on either side's
		// behalf as soon as it becomes eligible.
		for _, d := range b.game.EligibleDraws() {
			if d == chess.ThreefoldRepetition {
				if err := b.game.Draw(chess.ThreefoldRepetition); err == nil {
					return OutcomeRepetition, ""
				}
			}
		}
		return OutcomeNone, ""
	}
	switch b.game.Method() {
	case chess.Checkmate:
		return OutcomeCheckmate, mover
	case chess.Stalemate:
		return OutcomeStalemate, ""
	case chess.InsufficientMaterial:
		return OutcomeInsufficientMaterial, ""
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return OutcomeRepetition, ""
	default:
		// Draws the session layer negotiates itself (offers, 50-move) are not
		// auto-applied by the library in this configuration.
		return OutcomeNone, ""
	}
}
