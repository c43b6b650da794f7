// internal/session/bot.go
package session

import (
	"context"
	"log"
	"time"

	"github.com/chesshall/arbiter/internal/chessrules"
)

// botThinkDelay keeps computer replies from landing instantly; the engine's
// own movetime sits on top of this floor.
const botThinkDelay = 300 * time.Millisecond

// maybeScheduleBotMove arms the bot-move timer when it is a computer seat's
// turn. The generation counter taken here is compared after the engine
// returns, so a reply computed against a superseded position is discarded.
// Assumes lock held.
func (s *Session) maybeScheduleBotMove() {
	if s.Status != StatusActive || s.provider == nil {
		return
	}
	seat := s.seatByColor(s.Board.Turn())
	if seat == nil || seat.Kind != SeatBot {
		return
	}

	s.botGen++
	gen := s.botGen
	color := seat.Color
	level := seat.EngineLevel
	moves := s.Board.MovesUCI()

	s.scheduleTimer(timerBotMove, botThinkDelay, func() {
		s.runBotMove(gen, color, level, moves)
	})
}

// runBotMove is the timer callback: it calls the engine off the lock, then
// re-locks and re-validates generation, status and turn before applying. Any
// engine failure resolves the game in the human's favor rather than leaving
// the session stuck on a side that can never move.
func (s *Session) runBotMove(gen int, color chessrules.Color, level int, moves []string) {
	s.Mu.Lock()
	if gen != s.botGen || s.Status != StatusActive || s.Board.Turn() != color {
		s.Mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	s.botCancel = cancel
	s.Mu.Unlock()

	uci, err := s.provider.BestMove(ctx, moves, level)
	cancel()

	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.botCancel = nil
	if gen != s.botGen || s.Status != StatusActive || s.Board.Turn() != color {
		return
	}

	if err == nil {
		res, applyErr := s.Board.Apply(uci)
		if applyErr == nil {
			s.recordMove(color, res)
			return
		}
		log.Printf("session %s: engine produced illegal move %q: %v", s.Code, uci, applyErr)
		err = applyErr
	} else {
		log.Printf("session %s: engine failed for %s: %v", s.Code, color, err)
	}

	// The computer cannot continue; the human side takes the game.
	s.end(ReasonEngineFailure, color.Opponent())
}
