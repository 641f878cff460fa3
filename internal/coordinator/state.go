package coordinator

import (
	"sort"
	"time"

	"github.com/edvart/haxstats/internal/aggregator"
)

// Player is someone currently in the room.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

type State struct {
	Roster map[string]Player
	// Joins seen during a restore, written once the store is back.
	PendingJoins []PlayerJoined
	Restoring    bool
}

func NewState() *State {
	return &State{
		Roster: make(map[string]Player),
	}
}

// Name returns the roster name of a player, or "" if they are not in the room.
func (s *State) Name(id string) string {
	return s.Roster[id].Name
}

// Players returns the roster ordered by join time.
func (s *State) Players() []Player {
	out := make([]Player, 0, len(s.Roster))
	for _, p := range s.Roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot is a copy of the coordinator state safe to hand to other
// goroutines.
type Snapshot struct {
	Players      []Player                 `json:"players"`
	MatchID      string                   `json:"matchId,omitempty"`
	Participants []aggregator.Participant `json:"participants,omitempty"`
	Restoring    bool                     `json:"restoring"`
}
