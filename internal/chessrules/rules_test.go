// internal/chessrules/rules_test.go
package chessrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUCIAndSAN(t *testing.T) {
	b := NewBoard()
	require.Equal(t, White, b.Turn())

	res, err := b.Apply("e2e4")
	require.NoError(t, err)
	assert.Equal(t, "e2e4", res.UCI)
	assert.Equal(t, "e4", res.SAN)
	assert.Equal(t, OutcomeNone, res.Outcome)
	require.Equal(t, Black, b.Turn())

	// SAN is accepted too and canonicalized back to UCI.
	res, err = b.Apply("Nf6")
	require.NoError(t, err)
	assert.Equal(t, "g8f6", res.UCI)
	assert.Equal(t, White, b.Turn())
}

func TestIllegalMovesRejected(t *testing.T) {
	b := NewBoard()

	for _, mv := range []string{"", "e2e5", "e7e5", "Qh5", "zz9", "e1g1"} {
		_, err := b.Apply(mv)
		assert.ErrorIs(t, err, ErrIllegalMove, "move %q", mv)
	}
	// Board state untouched by rejections.
	assert.Empty(t, b.MovesUCI())
	assert.Equal(t, White, b.Turn())
}

func TestCheckmateOutcome(t *testing.T) {
	b := NewBoard()
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		res, err := b.Apply(mv)
		require.NoError(t, err)
		if mv == "d8h4" {
			assert.Equal(t, OutcomeCheckmate, res.Outcome)
			assert.Equal(t, Black, res.Winner)
		} else {
			assert.Equal(t, OutcomeNone, res.Outcome)
		}
	}
}

func TestThreefoldRepetitionIsTerminal(t *testing.T) {
	b := NewBoard()
	// Knights shuffle back and forth until the start position repeats thrice.
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	var last MoveResult
	var err error
	for i := 0; i < 2; i++ {
		for _, mv := range shuffle {
			last, err = b.Apply(mv)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, OutcomeRepetition, last.Outcome)
	assert.Equal(t, Color(""), last.Winner)
}

func TestReplayRebuildsPosition(t *testing.T) {
	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6"}
	b, err := Replay(moves)
	require.NoError(t, err)
	assert.Equal(t, moves, b.MovesUCI())
	assert.Equal(t, White, b.Turn())

	_, err = Replay([]string{"e2e4", "e2e4"})
	assert.Error(t, err)
}

func TestOpponent(t *testing.T) {
	assert.Equal(t, Black, White.Opponent())
	assert.Equal(t, White, Black.Opponent())
}
