package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/edvart/haxstats/internal/game"
)

var (
	// ErrPlayerNotFound is returned by targeted updates for an unknown identity.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrBackupFailed marks a failed snapshot. Destructive operations that
	// return it did not touch any rows.
	ErrBackupFailed = errors.New("backup failed")
	// ErrBackupNotFound is returned when restoring an unknown backup name.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrRestoreFailed is returned when a backup could not be swapped in.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrUnavailable is returned while the store has no usable connection.
	ErrUnavailable = errors.New("store unavailable")
)

// Player is a career record keyed by a stable identity.
type Player struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Goals         int       `db:"goals"`
	Assists       int       `db:"assists"`
	OwnGoals      int       `db:"own_goals"`
	Games         int       `db:"games"`
	Wins          int       `db:"wins"`
	Losses        int       `db:"losses"`
	Draws         int       `db:"draws"`
	CleanSheets   int       `db:"clean_sheets"`
	MinutesPlayed int       `db:"minutes_played"`
	CurrentStreak int       `db:"current_streak"`
	BestStreak    int       `db:"best_streak"`
	LastSeen      time.Time `db:"last_seen"`
	CreatedAt     time.Time `db:"created_at"`
}

// WinRate counts a draw as half a win. It is 0 before the first game.
func (p Player) WinRate() float64 {
	total := p.Wins + p.Losses + p.Draws
	if total == 0 {
		return 0
	}
	return (float64(p.Wins) + 0.5*float64(p.Draws)) / float64(total)
}

// GoalsPerGame is 0 before the first game.
func (p Player) GoalsPerGame() float64 {
	if p.Games == 0 {
		return 0
	}
	return float64(p.Goals) / float64(p.Games)
}

// Match is an immutable record of one completed match.
type Match struct {
	ID              string    `db:"id"`
	PlayedAt        time.Time `db:"played_at"`
	ScoreRed        int       `db:"score_red"`
	ScoreBlue       int       `db:"score_blue"`
	DurationSeconds int       `db:"duration_seconds"`
}

// Score returns the final score of the match.
func (m Match) Score() game.Score {
	return game.Score{Red: m.ScoreRed, Blue: m.ScoreBlue}
}

// MatchPlayer is one participant's performance in a match.
type MatchPlayer struct {
	MatchID  string    `db:"match_id"`
	PlayerID string    `db:"player_id"`
	Side     game.Side `db:"side"`
	Goals    int       `db:"goals"`
	Assists  int       `db:"assists"`
}

// MatchPlayerInfo is a performance joined with the player's current name.
type MatchPlayerInfo struct {
	PlayerID string    `db:"player_id"`
	Name     string    `db:"name"`
	Side     game.Side `db:"side"`
	Goals    int       `db:"goals"`
	Assists  int       `db:"assists"`
}

type MatchWithPlayers struct {
	Match
	Red  []MatchPlayerInfo
	Blue []MatchPlayerInfo
}

// Streak is how a delta moves a player's win streak. It is applied against
// the stored streak inside the write, never against a value read earlier.
type Streak int

const (
	StreakKept Streak = iota
	StreakExtended
	StreakBroken
)

// PlayerDelta enumerates every updatable career field. The counters are added
// to the stored value.
type PlayerDelta struct {
	Goals         int
	Assists       int
	OwnGoals      int
	Games         int
	Wins          int
	Losses        int
	Draws         int
	CleanSheets   int
	MinutesPlayed int

	Streak Streak
}

// CommitPlayer is one participant of a match being committed.
type CommitPlayer struct {
	PlayerID string
	Name     string
	Side     game.Side
	Goals    int
	Assists  int
	Delta    PlayerDelta
}

// MatchCommit is everything written for a completed match, in one transaction.
type MatchCommit struct {
	Match   Match
	Players []CommitPlayer
}

// Backup is a full point-in-time copy of the database file.
type Backup struct {
	Name      string
	Path      string
	Reason    string
	Size      int64
	CreatedAt time.Time
}

type Store interface {
	GetPlayer(ctx context.Context, id string) (*Player, error)
	GetPlayerByName(ctx context.Context, name string) (*Player, error)
	UpsertPlayer(ctx context.Context, id, name string, seenAt time.Time) error
	IncrementOwnGoals(ctx context.Context, id string) error
	ApplyPlayerDelta(ctx context.Context, id string, delta PlayerDelta) error
	TopScorers(ctx context.Context, limit int) ([]Player, error)
	RecentMatch(ctx context.Context) (*MatchWithPlayers, error)
	CommitMatch(ctx context.Context, commit *MatchCommit) error

	// Destructive operations. Each takes a backup first and returns it.
	ClearAllStats(ctx context.Context) (*Backup, error)
	PurgeSyntheticPlayers(ctx context.Context) (int, *Backup, error)
	DeletePlayer(ctx context.Context, name string) (bool, *Backup, error)

	CreateBackup(ctx context.Context, reason string) (*Backup, error)
	ListBackups() ([]Backup, error)
	RestoreBackup(ctx context.Context, name string) (*Backup, error)

	SchemaVersion(ctx context.Context) (uint, error)
	Close() error
}
