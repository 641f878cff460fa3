package aggregator

import (
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/store"
)

type Outcome int

const (
	Loss Outcome = iota
	Draw
	Win
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Draw:
		return "draw"
	default:
		return "loss"
	}
}

// OutcomeFor returns the result of the match for side.
func OutcomeFor(score game.Score, side game.Side) Outcome {
	own, other := score.For(side), score.Against(side)
	switch {
	case own > other:
		return Win
	case own < other:
		return Loss
	default:
		return Draw
	}
}

// CleanSheet reports whether side kept a clean sheet: its opponent did not
// score and it did not lose, which covers a 0-0 draw for both sides.
func CleanSheet(score game.Score, side game.Side) bool {
	return score.Against(side) == 0 && OutcomeFor(score, side) != Loss
}

// Delta computes one participant's career update for a finished match. A
// win extends the win streak; a loss or a draw breaks it.
func Delta(score game.Score, side game.Side, goals, assists, minutes int) store.PlayerDelta {
	d := store.PlayerDelta{
		Goals:         goals,
		Assists:       assists,
		Games:         1,
		MinutesPlayed: minutes,
		Streak:        store.StreakBroken,
	}

	switch OutcomeFor(score, side) {
	case Win:
		d.Wins = 1
		d.Streak = store.StreakExtended
	case Loss:
		d.Losses = 1
	case Draw:
		d.Draws = 1
	}

	if CleanSheet(score, side) {
		d.CleanSheets = 1
	}
	return d
}
