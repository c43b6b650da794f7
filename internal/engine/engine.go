// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEngineFailure covers every way the external engine can let a session
// down: timeout, crash, garbage output. The session layer resolves the game
// against the computer seat when it sees this.
var ErrEngineFailure = errors.New("engine failure")

// MoveProvider is the asynchronous half of the move provider: it produces a
// move for a computer-opponent turn. Implementations must respect ctx.
type MoveProvider interface {
	BestMove(ctx context.Context, movesUCI []string, level int) (string, error)
}

// Preset maps a difficulty level onto UCI search parameters. Levels outside
// 1..8 clamp to the nearest edge.
type Preset struct {
	Level      int
	Depth      int
	SkillLevel int
	MoveTime   time.Duration
}

var presets = []Preset{
	{Level: 1, Depth: 2, SkillLevel: 0, MoveTime: 150 * time.Millisecond},
	{Level: 2, Depth: 4, SkillLevel: 3, MoveTime: 250 * time.Millisecond},
	{Level: 3, Depth: 6, SkillLevel: 6, MoveTime: 400 * time.Millisecond},
	{Level: 4, Depth: 8, SkillLevel: 9, MoveTime: 600 * time.Millisecond},
	{Level: 5, Depth: 10, SkillLevel: 12, MoveTime: 800 * time.Millisecond},
	{Level: 6, Depth: 13, SkillLevel: 15, MoveTime: 1200 * time.Millisecond},
	{Level: 7, Depth: 16, SkillLevel: 18, MoveTime: 1800 * time.Millisecond},
	{Level: 8, Depth: 20, SkillLevel: 20, MoveTime: 2500 * time.Millisecond},
}

// PresetFor returns the search parameters for a difficulty level.
func PresetFor(level int) Preset {
	if level < 1 {
		level = 1
	}
	if level > len(presets) {
		level = len(presets)
	}
	return presets[level-1]
}

// UCIEngine drives one UCI subprocess (e.g. stockfish). A bounded timeout is
// applied to every request on top of whatever deadline the caller set.
type UCIEngine struct {
	binaryPath string
	timeout    time.Duration
	session    *session
}

// NewUCIEngine launches the engine binary and completes the UCI handshake.
func NewUCIEngine(binaryPath string, timeout time.Duration) (*UCIEngine, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s, err := newSession(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("start uci engine: %w", err)
	}
	return &UCIEngine{binaryPath: binaryPath, timeout: timeout, session: s}, nil
}

// BestMove asks the engine for a move in the position reached by movesUCI
// from the start position. Any protocol error or timeout is reported as
// ErrEngineFailure; the caller decides what that does to the game.
func (e *UCIEngine) BestMove(ctx context.Context, movesUCI []string, level int) (string, error) {
	p := PresetFor(level)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	move, err := e.session.search(ctx, movesUCI, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	if move == "" || move == "(none)" {
		return "", fmt.Errorf("%w: engine returned no move", ErrEngineFailure)
	}
	return move, nil
}

// Close terminates the subprocess.
func (e *UCIEngine) Close() error {
	return e.session.close()
}
