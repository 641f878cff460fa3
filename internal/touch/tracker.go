// Package touch keeps a short history of who last touched the ball.
package touch

import (
	"math"
	"time"

	"github.com/edvart/haxstats/internal/game"
)

const (
	PlayerRadius = 15.0
	BallRadius   = 10.0
	// Distance is the largest centre-to-centre distance at which a player
	// counts as touching the ball.
	Distance = PlayerRadius + BallRadius

	HistorySize     = 5
	DefaultDebounce = 50 * time.Millisecond
)

// Touch is one recorded contact between a player and the ball.
type Touch struct {
	PlayerID string
	Side     game.Side
	At       time.Time
}

// PlayerSample is a player's disc at the moment of a sample. Position is nil
// when the game did not report it.
type PlayerSample struct {
	ID       string
	Side     game.Side
	Position *game.Position
}

// Sample is a periodic snapshot of the ball and the players.
type Sample struct {
	At      time.Time
	Ball    *game.Position
	Players []PlayerSample
}

// Tracker is not safe for concurrent use.
type Tracker struct {
	debounce time.Duration
	history  []Touch
}

func NewTracker(debounce time.Duration) *Tracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Tracker{
		debounce: debounce,
		history:  make([]Touch, 0, HistorySize),
	}
}

// Reset forgets every recorded touch.
func (t *Tracker) Reset() {
	t.history = t.history[:0]
}

// Observe finds the first player in s.Players within touching distance of the
// ball and records them. Players without an identity, without a side or
// without a position are skipped. It returns the touch found, if any, and
// whether it was added to the history.
func (t *Tracker) Observe(s Sample) (Touch, bool, bool) {
	if s.Ball == nil {
		return Touch{}, false, false
	}
	for _, p := range s.Players {
		if p.ID == "" || !p.Side.Playing() || p.Position == nil {
			continue
		}
		if math.Hypot(p.Position.X-s.Ball.X, p.Position.Y-s.Ball.Y) > Distance {
			continue
		}
		tc := Touch{PlayerID: p.ID, Side: p.Side, At: s.At}
		return tc, true, t.Record(tc)
	}
	return Touch{}, false, false
}

// Record appends tc unless it continues the previous touch: same player
// within the debounce interval.
func (t *Tracker) Record(tc Touch) bool {
	if n := len(t.history); n > 0 {
		last := t.history[n-1]
		if last.PlayerID == tc.PlayerID && tc.At.Sub(last.At) < t.debounce {
			return false
		}
	}
	if len(t.history) == HistorySize {
		copy(t.history, t.history[1:])
		t.history = t.history[:HistorySize-1]
	}
	t.history = append(t.history, tc)
	return true
}

// History returns a copy of the recorded touches, oldest first.
func (t *Tracker) History() []Touch {
	out := make([]Touch, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) Len() int {
	return len(t.history)
}
