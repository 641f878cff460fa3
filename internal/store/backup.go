package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Backup reasons recorded in backup file names.
const (
	ReasonManual     = "manual"
	ReasonClear      = "clear"
	ReasonPurge      = "purge"
	ReasonDelete     = "delete"
	ReasonPreRestore = "pre_restore"
)

const backupTimeLayout = "20060102-150405.000"

var backupNameRe = regexp.MustCompile(`^(.+)-(\d{8}-\d{6}\.\d{3})-([a-z0-9_]+)(?:-(\d+))?\.db$`)

var reasonRe = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitizeReason(reason string) string {
	r := reasonRe.ReplaceAllString(strings.ToLower(reason), "_")
	r = strings.Trim(r, "_")
	if r == "" {
		return ReasonManual
	}
	return r
}

func (s *SQLiteStore) stem() string {
	return strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
}

// nextBackupPath picks an unused file name for a backup taken now.
func (s *SQLiteStore) nextBackupPath(reason string) (string, time.Time, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", time.Time{}, errors.Wrap(err, "create backup directory")
	}
	at := s.now().UTC()
	base := fmt.Sprintf("%s-%s-%s", s.stem(), at.Format(backupTimeLayout), sanitizeReason(reason))
	for i := 1; ; i++ {
		name := base + ".db"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.db", base, i)
		}
		path := filepath.Join(s.backupDir, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, at, nil
		} else if err != nil {
			return "", time.Time{}, errors.Wrap(err, "stat backup file")
		}
	}
}

func backupInfo(path, reason string, at time.Time) (*Backup, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Backup{
		Name:      filepath.Base(path),
		Path:      path,
		Reason:    sanitizeReason(reason),
		Size:      fi.Size(),
		CreatedAt: at,
	}, nil
}

// backupLocked snapshots the live database. Callers hold mu exclusively.
func (s *SQLiteStore) backupLocked(ctx context.Context, reason string) (*Backup, error) {
	b, err := s.vacuumInto(ctx, reason)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "backup before %s", reason), ErrBackupFailed)
	}
	s.log.WithFields(logrus.Fields{"backup": b.Name, "reason": reason, "size": b.Size}).Info("Backup created")
	return b, nil
}

func (s *SQLiteStore) vacuumInto(ctx context.Context, reason string) (*Backup, error) {
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}
	path, at, err := s.nextBackupPath(reason)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "vacuum into backup")
	}
	return backupInfo(path, reason, at)
}

// CreateBackup takes a consistent snapshot of the database.
func (s *SQLiteStore) CreateBackup(ctx context.Context, reason string) (*Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked(ctx, reason)
}

// ListBackups returns the backups in the backup directory, newest first.
func (s *SQLiteStore) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(s.backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read backup directory")
	}

	var backups []Backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := backupNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		at, err := time.ParseInLocation(backupTimeLayout, m[2], time.UTC)
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Name:      e.Name(),
			Path:      filepath.Join(s.backupDir, e.Name()),
			Reason:    m[3],
			Size:      fi.Size(),
			CreatedAt: at,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// RestoreBackup replaces the live database with the named backup. The
// current database is saved first and the returned backup points at that
// copy. If the backup cannot be opened the previous database is put back and
// ErrRestoreFailed is returned.
func (s *SQLiteStore) RestoreBackup(ctx context.Context, name string) (*Backup, error) {
	if filepath.Base(name) != name || !backupNameRe.MatchString(name) {
		return nil, errors.Wrapf(ErrBackupNotFound, "restore %q", name)
	}
	src := filepath.Join(s.backupDir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Mark(errors.New("store is closed"), ErrUnavailable)
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(ErrBackupNotFound, "restore %q", name)
	} else if err != nil {
		return nil, errors.Wrapf(err, "restore %q", name)
	}

	log := s.log.WithField("backup", name)

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database before restore")
		}
		s.db = nil
	}

	safetyPath, at, err := s.nextBackupPath(ReasonPreRestore)
	if err == nil {
		err = copyFile(s.path, safetyPath)
	}
	if err != nil {
		if reopenErr := s.openLocked(); reopenErr != nil {
			log.WithError(reopenErr).Error("Failed to reopen database")
		}
		return nil, errors.Mark(errors.Wrap(err, "save current database"), ErrBackupFailed)
	}
	safety, err := backupInfo(safetyPath, ReasonPreRestore, at)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "save current database"), ErrBackupFailed)
	}

	if err := s.swapIn(src); err != nil {
		log.WithError(err).Error("Restore failed, putting previous database back")
		if rollbackErr := s.swapIn(safetyPath); rollbackErr != nil {
			log.WithError(rollbackErr).Error("Failed to put previous database back")
		}
		return nil, errors.Mark(errors.Wrapf(err, "restore %q", name), ErrRestoreFailed)
	}

	log.WithField("safety_backup", safety.Name).Info("Backup restored")
	return safety, nil
}

// swapIn copies src over the database file and opens it, migrating it
// forward if it predates the current schema.
func (s *SQLiteStore) swapIn(src string) error {
	if err := os.Remove(s.path + "-journal"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "remove stale journal")
	}
	if err := copyFile(src, s.path); err != nil {
		return err
	}
	return s.openLocked()
}

// copyFile writes dst atomically through a temporary file in its directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.Wrap(err, "copy")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), dst), "rename into place")
}

// ClearAllStats zeroes every career record and deletes all match history.
// Player identities and names are kept.
func (s *SQLiteStore) ClearAllStats(ctx context.Context) (*Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.backupLocked(ctx, ReasonClear)
	if err != nil {
		return nil, err
	}

	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM match_players`,
			`DELETE FROM matches`,
			`UPDATE players SET goals = 0, assists = 0, own_goals = 0, games = 0,
				wins = 0, losses = 0, draws = 0, clean_sheets = 0, minutes_played = 0,
				current_streak = 0, best_streak = 0`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b, errors.Wrap(err, "clear stats")
	}
	s.log.WithField("backup", b.Name).Warn("All stats cleared")
	return b, nil
}

func (s *SQLiteStore) prefixClause() (string, []any) {
	var conds []string
	var args []any
	for _, p := range s.prefixes {
		if p == "" {
			continue
		}
		conds = append(conds, "substr(id, 1, length(?)) = ?")
		args = append(args, p, p)
	}
	if len(conds) == 0 {
		return "0", nil
	}
	return strings.Join(conds, " OR "), args
}

// PurgeSyntheticPlayers deletes every player whose identity starts with one
// of the synthetic prefixes, together with their performances and any match
// left without participants. No backup is taken when nothing matches.
func (s *SQLiteStore) PurgeSyntheticPlayers(ctx context.Context) (int, *Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		return 0, nil, err
	}
	where, args := s.prefixClause()

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM players WHERE `+where, args...); err != nil {
		return 0, nil, errors.Wrap(err, "count synthetic players")
	}
	if count == 0 {
		return 0, nil, nil
	}

	b, err := s.backupLocked(ctx, ReasonPurge)
	if err != nil {
		return 0, nil, err
	}

	var deleted int64
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM players WHERE `+where, args...)
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM matches WHERE id NOT IN (SELECT DISTINCT match_id FROM match_players)`)
		return err
	})
	if err != nil {
		return 0, b, errors.Wrap(err, "purge synthetic players")
	}
	s.log.WithFields(logrus.Fields{"count": deleted, "backup": b.Name}).Warn("Synthetic players purged")
	return int(deleted), b, nil
}

// DeletePlayer removes the player with the given display name and their
// performances. It reports false, without taking a backup, if no player has
// that name.
func (s *SQLiteStore) DeletePlayer(ctx context.Context, name string) (bool, *Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		return false, nil, err
	}

	var id string
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM players WHERE name = ? COLLATE NOCASE ORDER BY last_seen DESC LIMIT 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "find player %q", name)
	}

	b, err := s.backupLocked(ctx, ReasonDelete)
	if err != nil {
		return false, nil, err
	}

	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM matches WHERE id NOT IN (SELECT DISTINCT match_id FROM match_players)`)
		return err
	})
	if err != nil {
		return false, b, errors.Wrapf(err, "delete player %q", name)
	}
	s.log.WithFields(logrus.Fields{"player": id, "name": name, "backup": b.Name}).Warn("Player deleted")
	return true, b, nil
}
