// Package attribution decides who scored a goal and who assisted it from the
// recent touch history.
package attribution

import (
	"time"

	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/touch"
)

// DefaultAssistWindow is the longest gap between the assisting touch and the
// scoring touch.
const DefaultAssistWindow = 3 * time.Second

// Result is the attribution of one goal. Scorer is nil for an unattributed
// goal. Assister may be set on an own goal: the assist rule does not look at
// the own-goal flag.
type Result struct {
	Scorer   *touch.Touch
	OwnGoal  bool
	Assister *touch.Touch
}

func (r Result) Attributed() bool {
	return r.Scorer != nil
}

// Attribute credits the goal to the last toucher. receiving is the side the
// point was awarded to, so a last toucher from the other side scored an own
// goal. history is ordered oldest first.
func Attribute(history []touch.Touch, receiving game.Side, window time.Duration) Result {
	n := len(history)
	if n == 0 {
		return Result{}
	}
	if window <= 0 {
		window = DefaultAssistWindow
	}

	scorer := history[n-1]
	res := Result{
		Scorer:  &scorer,
		OwnGoal: scorer.Side != receiving,
	}

	if n < 2 {
		return res
	}
	prev := history[n-2]
	if prev.PlayerID != scorer.PlayerID &&
		prev.Side == scorer.Side &&
		scorer.At.Sub(prev.At) <= window {
		res.Assister = &prev
	}
	return res
}
