package coordinator

import (
	"time"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/store"
	"github.com/edvart/haxstats/internal/touch"
)

// Command is the interface for all commands sent to the coordinator.
type Command interface {
	command() // marker method
}

// PlayerJoined adds a player to the room roster and creates or refreshes
// their career record.
type PlayerJoined struct {
	PlayerID string
	Name     string
	At       time.Time
	Response chan error
}

func (PlayerJoined) command() {}

// PlayerLeft removes a player from the roster. A running match keeps them.
type PlayerLeft struct {
	PlayerID string
	At       time.Time
}

func (PlayerLeft) command() {}

// StartMatch begins tracking a match with the given lineup.
type StartMatch struct {
	At           time.Time
	Participants []aggregator.Participant
	Response     chan error
}

func (StartMatch) command() {}

// RecordGoal reports a goal awarded to Side. Score is the score after the
// goal if the game reported it.
type RecordGoal struct {
	At       time.Time
	Side     game.Side
	Score    *game.Score
	Response chan error
}

func (RecordGoal) command() {}

// RecordTerminalResult reports the official final score before the stop.
type RecordTerminalResult struct {
	Score    game.Score
	Response chan error
}

func (RecordTerminalResult) command() {}

// RecordSample is a periodic ball and player position snapshot.
type RecordSample struct {
	Sample touch.Sample
}

func (RecordSample) command() {}

type StopResult struct {
	Commit *store.MatchCommit
	Err    error
}

// StopMatch ends the running match and commits it.
type StopMatch struct {
	At       time.Time
	Response chan StopResult
}

func (StopMatch) command() {}

type ChatReply struct {
	Text string
	OK   bool
}

// ChatMessage is a line of chat from a player.
type ChatMessage struct {
	PlayerID string
	Text     string
	Response chan ChatReply
}

func (ChatMessage) command() {}

type RestoreResult struct {
	Safety *store.Backup
	Err    error
}

// AdminRestoreBackup swaps in a backup. It is refused while a match runs.
type AdminRestoreBackup struct {
	Name     string
	Response chan RestoreResult
}

func (AdminRestoreBackup) command() {}

// restoreDone is sent by the restore goroutine when it finishes.
type restoreDone struct {
	name   string
	result RestoreResult
	reply  chan RestoreResult
}

func (restoreDone) command() {}
