package coordinator

import (
	"time"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/game"
)

type Event interface {
	event() // marker method
}

type MatchStarted struct {
	MatchID      string                   `json:"matchId"`
	At           time.Time                `json:"at"`
	Participants []aggregator.Participant `json:"participants"`
}

func (MatchStarted) event() {}

type GoalScored struct {
	MatchID  string      `json:"matchId"`
	At       time.Time   `json:"at"`
	Side     game.Side   `json:"side"`
	Score    *game.Score `json:"score,omitempty"`
	Scorer   string      `json:"scorer,omitempty"`
	Assister string      `json:"assister,omitempty"`
	OwnGoal  bool        `json:"ownGoal"`
}

func (GoalScored) event() {}

type MatchCommitted struct {
	MatchID         string     `json:"matchId"`
	Score           game.Score `json:"score"`
	DurationSeconds int        `json:"durationSeconds"`
	Players         int        `json:"players"`
}

func (MatchCommitted) event() {}

type MatchAborted struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

func (MatchAborted) event() {}

type BackupRestored struct {
	Name         string `json:"name"`
	SafetyBackup string `json:"safetyBackup"`
}

func (BackupRestored) event() {}

// EventName is the SSE event name of e.
func EventName(e Event) string {
	switch e.(type) {
	case MatchStarted:
		return "match_started"
	case GoalScored:
		return "goal"
	case MatchCommitted:
		return "match_committed"
	case MatchAborted:
		return "match_aborted"
	case BackupRestored:
		return "backup_restored"
	default:
		return "unknown"
	}
}
