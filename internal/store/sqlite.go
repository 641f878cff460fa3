package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/edvart/haxstats/internal/game"
)

// DefaultSyntheticPrefixes mark identities created by test tooling.
var DefaultSyntheticPrefixes = []string{"test_", "fake_"}

const playerColumns = `id, name, goals, assists, own_goals, games, wins, losses, draws,
	clean_sheets, minutes_played, current_streak, best_streak, last_seen, created_at`

// Options tune a SQLiteStore. The zero value is usable.
type Options struct {
	// BackupDir defaults to a "backups" directory next to the database file.
	BackupDir         string
	SyntheticPrefixes []string
	Logger            logrus.FieldLogger
	Now               func() time.Time
}

// SQLiteStore implements Store using SQLite.
//
// mu guards db. Reads and match commits share the lock; destructive
// operations and restores hold it exclusively so that nothing observes the
// window between a backup and the mutation it protects.
type SQLiteStore struct {
	path      string
	backupDir string
	prefixes  []string
	log       logrus.FieldLogger
	now       func() time.Time

	mu     sync.RWMutex
	db     *sqlx.DB
	closed bool
}

// NewSQLiteStore opens the database at path and migrates it to the latest
// schema version.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:      path,
		backupDir: opts.BackupDir,
		prefixes:  opts.SyntheticPrefixes,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.backupDir == "" {
		s.backupDir = filepath.Join(filepath.Dir(path), "backups")
	}
	if s.prefixes == nil {
		s.prefixes = DefaultSyntheticPrefixes
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "store")
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func dsn(path string, foreignKeys bool) string {
	d := path + "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	if foreignKeys {
		d += "&_pragma=foreign_keys(1)"
	}
	return d
}

// openLocked migrates and opens the database file. Callers hold mu.
func (s *SQLiteStore) openLocked() error {
	if err := migrateDB(s.path, s.log); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db, err := sqlx.Open("sqlite", dsn(s.path, true))
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	var check string
	if err := db.Get(&check, "PRAGMA quick_check"); err != nil {
		db.Close()
		return errors.Wrap(err, "check database")
	}
	if check != "ok" {
		db.Close()
		return errors.Newf("database integrity check: %s", check)
	}

	s.db = db
	return nil
}

// withDB runs fn against the live connection under the shared lock. A store
// left without a connection by a failed restore is reopened here.
func (s *SQLiteStore) withDB(fn func(db *sqlx.DB) error) error {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		if err := s.reopen(); err != nil {
			return err
		}
		s.mu.RLock()
	}
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrUnavailable
	}
	return fn(s.db)
}

func (s *SQLiteStore) reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpenLocked()
}

func (s *SQLiteStore) ensureOpenLocked() error {
	if s.closed {
		return errors.Mark(errors.New("store is closed"), ErrUnavailable)
	}
	if s.db != nil {
		return nil
	}
	if err := s.openLocked(); err != nil {
		return errors.Mark(errors.Wrap(err, "reopen database"), ErrUnavailable)
	}
	s.log.Warn("Database connection reopened")
	return nil
}

func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, error) {
	var version uint64
	err := s.withDB(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &version, "SELECT version FROM "+versionTable+" LIMIT 1")
	})
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return uint(version), nil
}

// GetPlayer retrieves a player by identity. It returns nil if none exists.
func (s *SQLiteStore) GetPlayer(ctx context.Context, id string) (*Player, error) {
	var p Player
	err := s.withDB(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get player %q", id)
	}
	return &p, nil
}

// GetPlayerByName matches the display name case-insensitively. When several
// identities share a name, the most recently seen one wins.
func (s *SQLiteStore) GetPlayerByName(ctx context.Context, name string) (*Player, error) {
	var p Player
	err := s.withDB(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &p,
			`SELECT `+playerColumns+` FROM players
			 WHERE name = ? COLLATE NOCASE
			 ORDER BY last_seen DESC LIMIT 1`, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get player by name %q", name)
	}
	return &p, nil
}

// utc normalises a timestamp before it is stored. Columns hold text, so
// ORDER BY on them is only chronological when every row shares one offset.
func utc(t time.Time) time.Time {
	return t.UTC()
}

// UpsertPlayer creates a player with zeroed stats, or refreshes the name and
// last-seen time of an existing one.
func (s *SQLiteStore) UpsertPlayer(ctx context.Context, id, name string, seenAt time.Time) error {
	err := s.withDB(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO players (id, name, last_seen, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			 	name = excluded.name,
			 	last_seen = excluded.last_seen`,
			id, name, utc(seenAt), utc(seenAt))
		return err
	})
	return errors.Wrapf(err, "upsert player %q", id)
}

// ApplyPlayerDelta adds the delta's counters to a player's record.
func (s *SQLiteStore) ApplyPlayerDelta(ctx context.Context, id string, delta PlayerDelta) error {
	return s.withDB(func(db *sqlx.DB) error {
		return applyDelta(ctx, db, id, delta)
	})
}

// IncrementOwnGoals credits one own goal outside of any match commit.
func (s *SQLiteStore) IncrementOwnGoals(ctx context.Context, id string) error {
	return s.ApplyPlayerDelta(ctx, id, PlayerDelta{OwnGoals: 1})
}

func applyDelta(ctx context.Context, ex sqlx.ExecerContext, id string, d PlayerDelta) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE players SET
			goals = goals + ?,
			assists = assists + ?,
			own_goals = own_goals + ?,
			games = games + ?,
			wins = wins + ?,
			losses = losses + ?,
			draws = draws + ?,
			clean_sheets = clean_sheets + ?,
			minutes_played = minutes_played + ?,
			current_streak = CASE ?
				WHEN 1 THEN current_streak + 1
				WHEN 2 THEN 0
				ELSE current_streak END,
			best_streak = CASE
				WHEN ? = 1 AND current_streak + 1 > best_streak THEN current_streak + 1
				ELSE best_streak END
		 WHERE id = ?`,
		d.Goals, d.Assists, d.OwnGoals, d.Games, d.Wins, d.Losses, d.Draws,
		d.CleanSheets, d.MinutesPlayed, int(d.Streak), int(d.Streak), id)
	if err != nil {
		return errors.Wrapf(err, "update player %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update player %q", id)
	}
	if n == 0 {
		return errors.Wrapf(ErrPlayerNotFound, "update player %q", id)
	}
	return nil
}

// TopScorers ranks players with at least one game by goals. Ties go to the
// player with fewer games, then by name.
func (s *SQLiteStore) TopScorers(ctx context.Context, limit int) ([]Player, error) {
	var players []Player
	err := s.withDB(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &players,
			`SELECT `+playerColumns+` FROM players
			 WHERE games > 0
			 ORDER BY goals DESC, games ASC, name COLLATE NOCASE ASC, id ASC
			 LIMIT ?`, limit)
	})
	if err != nil {
		return nil, errors.Wrap(err, "rank players")
	}
	return players, nil
}

// RecentMatch returns the last committed match, or nil if there is none.
func (s *SQLiteStore) RecentMatch(ctx context.Context) (*MatchWithPlayers, error) {
	var result *MatchWithPlayers
	err := s.withDB(func(db *sqlx.DB) error {
		var m Match
		err := db.GetContext(ctx, &m,
			`SELECT id, played_at, score_red, score_blue, duration_seconds
			 FROM matches ORDER BY played_at DESC, rowid DESC LIMIT 1`)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		var players []MatchPlayerInfo
		err = db.SelectContext(ctx, &players,
			`SELECT mp.player_id, p.name, mp.side, mp.goals, mp.assists
			 FROM match_players mp
			 JOIN players p ON p.id = mp.player_id
			 WHERE mp.match_id = ?
			 ORDER BY mp.goals DESC, mp.assists DESC, p.name COLLATE NOCASE`, m.ID)
		if err != nil {
			return err
		}

		result = &MatchWithPlayers{Match: m}
		for _, p := range players {
			if p.Side == game.SideRed {
				result.Red = append(result.Red, p)
			} else {
				result.Blue = append(result.Blue, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load recent match")
	}
	return result, nil
}

// CommitMatch writes the match, every participant's performance and every
// career delta in one transaction.
func (s *SQLiteStore) CommitMatch(ctx context.Context, commit *MatchCommit) error {
	err := s.withDB(func(db *sqlx.DB) error {
		return inTx(ctx, db, func(tx *sqlx.Tx) error {
			m := commit.Match
			m.PlayedAt = utc(m.PlayedAt)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO matches (id, played_at, score_red, score_blue, duration_seconds)
				 VALUES (?, ?, ?, ?, ?)`,
				m.ID, m.PlayedAt, m.ScoreRed, m.ScoreBlue, m.DurationSeconds); err != nil {
				return errors.Wrap(err, "insert match")
			}

			for _, p := range commit.Players {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO players (id, name, last_seen, created_at)
					 VALUES (?, ?, ?, ?)
					 ON CONFLICT(id) DO NOTHING`,
					p.PlayerID, p.Name, m.PlayedAt, m.PlayedAt); err != nil {
					return errors.Wrapf(err, "ensure player %q", p.PlayerID)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO match_players (match_id, player_id, side, goals, assists)
					 VALUES (?, ?, ?, ?, ?)`,
					m.ID, p.PlayerID, int(p.Side), p.Goals, p.Assists); err != nil {
					return errors.Wrapf(err, "insert performance of %q", p.PlayerID)
				}
				if err := applyDelta(ctx, tx, p.PlayerID, p.Delta); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return errors.Wrapf(err, "commit match %s", commit.Match.ID)
}
