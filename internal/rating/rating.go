// internal/rating/rating.go
package rating

import "math"

// Score values for a finished game from one player's perspective.
const (
	ScoreWin  = 1.0
	ScoreDraw = 0.5
	ScoreLoss = 0.0
)

// PlayerState is the persisted rating state a profile carries between games.
type PlayerState struct {
	Elo   int
	Phi   float64 // rating deviation on the Elo scale
	Sigma float64
}

// normalized fills in baseline deviation/volatility for fresh players.
func (p PlayerState) normalized() PlayerState {
	if p.Elo == 0 {
		p.Elo = int(DefaultMu)
	}
	if p.Phi <= 0 {
		p.Phi = DefaultPhi
	}
	if p.Sigma <= 0 {
		p.Sigma = DefaultSigma
	}
	return p
}

// Deltas1v1 computes the Elo adjustment for both sides of one finished game.
// score is from player a's perspective (ScoreWin, ScoreDraw, ScoreLoss). The
// returned deltas are what the profile store's adjustRating call applies;
// callers skip this entirely for games involving a computer seat.
func Deltas1v1(a, b PlayerState, score float64) (deltaA, deltaB int) {
	a = a.normalized()
	b = b.normalized()

	ra := NewGlicko2Rating(float64(a.Elo), a.Phi, a.Sigma)
	rb := NewGlicko2Rating(float64(b.Elo), b.Phi, b.Sigma)

	na := updateGlicko(ra, rb, score)
	nb := updateGlicko(rb, ra, 1.0-score)

	deltaA = int(math.Round(na.ToElo())) - a.Elo
	deltaB = int(math.Round(nb.ToElo())) - b.Elo
	return deltaA, deltaB
}
