package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvart/haxstats/internal/game"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.db")
	log, _ := test.NewNullLogger()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSQLiteStore(path, Options{Logger: log, Now: clock.now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func seedMatch(t *testing.T, s *SQLiteStore, id string, at time.Time, score game.Score, players ...CommitPlayer) {
	t.Helper()
	err := s.CommitMatch(t.Context(), &MatchCommit{
		Match: Match{
			ID:              id,
			PlayedAt:        at,
			ScoreRed:        score.Red,
			ScoreBlue:       score.Blue,
			DurationSeconds: 300,
		},
		Players: players,
	})
	require.NoError(t, err)
}

func TestMigrationsApplyAllVersions(t *testing.T) {
	s, path := openTestStore(t)

	v, err := s.SchemaVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint(4), v)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.Close())
	log, _ := test.NewNullLogger()
	s2, err := NewSQLiteStore(path, Options{Logger: log})
	require.NoError(t, err)
	defer s2.Close()

	v, err = s2.SchemaVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint(4), v)
}

func TestUpsertAndGetPlayer(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	p, err := s.GetPlayer(ctx, "auth-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", seen))
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alicia", seen.Add(time.Hour)))

	p, err = s.GetPlayer(ctx, "auth-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Alicia", p.Name)
	assert.Zero(t, p.Games)
	assert.True(t, p.LastSeen.Equal(seen.Add(time.Hour)))

	byName, err := s.GetPlayerByName(ctx, "ALICIA")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "auth-1", byName.ID)

	missing, err := s.GetPlayerByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetPlayerByNamePrefersMostRecentlySeen(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertPlayer(ctx, "old", "Bob", base))
	require.NoError(t, s.UpsertPlayer(ctx, "new", "bob", base.Add(time.Minute)))

	p, err := s.GetPlayerByName(ctx, "Bob")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "new", p.ID)
}

func TestOrderingIgnoresUTCOffset(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	atlantic := time.FixedZone("UTC-1", -60*60)
	// 11:30 at UTC-1 is 12:30Z, half an hour after the first match.
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := time.Date(2026, 3, 1, 11, 30, 0, 0, atlantic)

	seedMatch(t, s, "older", first, game.Score{Red: 1})
	seedMatch(t, s, "newer", second, game.Score{Blue: 1})

	m, err := s.RecentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "newer", m.ID)
	assert.True(t, m.PlayedAt.Equal(second))

	require.NoError(t, s.UpsertPlayer(ctx, "old", "Bob", first))
	require.NoError(t, s.UpsertPlayer(ctx, "new", "bob", second))
	p, err := s.GetPlayerByName(ctx, "Bob")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "new", p.ID)
}

func TestApplyPlayerDelta(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", time.Now()))

	require.NoError(t, s.ApplyPlayerDelta(ctx, "auth-1", PlayerDelta{
		Goals: 2, Games: 1, Wins: 1, MinutesPlayed: 5,
		Streak: StreakExtended,
	}))
	require.NoError(t, s.IncrementOwnGoals(ctx, "auth-1"))

	p, err := s.GetPlayer(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Goals)
	assert.Equal(t, 1, p.OwnGoals)
	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, 5, p.MinutesPlayed)
	// The own goal left the streak alone.
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 1, p.BestStreak)

	err = s.ApplyPlayerDelta(ctx, "ghost", PlayerDelta{Goals: 1})
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
}

func TestStreakIsAppliedToStoredValue(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", time.Now()))

	win := PlayerDelta{Games: 1, Wins: 1, Streak: StreakExtended}
	loss := PlayerDelta{Games: 1, Losses: 1, Streak: StreakBroken}
	streaks := func() (int, int) {
		t.Helper()
		p, err := s.GetPlayer(ctx, "auth-1")
		require.NoError(t, err)
		return p.CurrentStreak, p.BestStreak
	}

	for range 3 {
		require.NoError(t, s.ApplyPlayerDelta(ctx, "auth-1", win))
	}
	cur, best := streaks()
	assert.Equal(t, 3, cur)
	assert.Equal(t, 3, best)

	require.NoError(t, s.ApplyPlayerDelta(ctx, "auth-1", loss))
	require.NoError(t, s.ApplyPlayerDelta(ctx, "auth-1", win))
	cur, best = streaks()
	assert.Equal(t, 1, cur)
	assert.Equal(t, 3, best)

	// A match committed after a clear builds on the cleared values.
	_, err := s.ClearAllStats(ctx)
	require.NoError(t, err)
	seedMatch(t, s, "m1", time.Now(), game.Score{Red: 1},
		CommitPlayer{PlayerID: "auth-1", Name: "Alice", Side: game.SideRed, Delta: win})
	cur, best = streaks()
	assert.Equal(t, 1, cur)
	assert.Equal(t, 1, best)
}

func TestApplyPlayerDeltaRejectsInconsistentGames(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", time.Now()))

	err := s.ApplyPlayerDelta(ctx, "auth-1", PlayerDelta{Games: 1})
	assert.Error(t, err)
}

func TestCommitMatchAndRecentMatch(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	m, err := s.RecentMatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	seedMatch(t, s, "m1", at, game.Score{Red: 2, Blue: 1},
		CommitPlayer{PlayerID: "r1", Name: "Red One", Side: game.SideRed, Goals: 2,
			Delta: PlayerDelta{Goals: 2, Games: 1, Wins: 1}},
		CommitPlayer{PlayerID: "b1", Name: "Blue One", Side: game.SideBlue, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Losses: 1}},
	)
	seedMatch(t, s, "m2", at.Add(time.Hour), game.Score{Red: 0, Blue: 0},
		CommitPlayer{PlayerID: "r1", Name: "Red One", Side: game.SideBlue,
			Delta: PlayerDelta{Games: 1, Draws: 1, CleanSheets: 1}},
	)

	m, err = s.RecentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "m2", m.ID)
	assert.Empty(t, m.Red)
	require.Len(t, m.Blue, 1)
	assert.Equal(t, "Red One", m.Blue[0].Name)

	p, err := s.GetPlayer(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Games)
	assert.Equal(t, 1, p.Draws)
	assert.Equal(t, 1, p.CleanSheets)
}

func TestCommitMatchIsAtomic(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	err := s.CommitMatch(ctx, &MatchCommit{
		Match: Match{ID: "m1", PlayedAt: time.Now(), ScoreRed: 1},
		Players: []CommitPlayer{
			{PlayerID: "r1", Name: "Red", Side: game.SideRed, Delta: PlayerDelta{Games: 1, Wins: 1}},
			// Violates the games = wins + losses + draws check.
			{PlayerID: "b1", Name: "Blue", Side: game.SideBlue, Delta: PlayerDelta{Games: 1}},
		},
	})
	require.Error(t, err)

	m, err := s.RecentMatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	p, err := s.GetPlayer(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestTopScorersOrdering(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	at := time.Now()

	seedMatch(t, s, "m1", at, game.Score{Red: 3, Blue: 3},
		CommitPlayer{PlayerID: "a", Name: "Ann", Side: game.SideRed, Goals: 3,
			Delta: PlayerDelta{Goals: 3, Games: 1, Draws: 1}},
		CommitPlayer{PlayerID: "b", Name: "Ben", Side: game.SideBlue, Goals: 3,
			Delta: PlayerDelta{Goals: 3, Games: 1, Draws: 1}},
	)
	seedMatch(t, s, "m2", at.Add(time.Minute), game.Score{Red: 0, Blue: 1},
		CommitPlayer{PlayerID: "a", Name: "Ann", Side: game.SideRed,
			Delta: PlayerDelta{Games: 1, Losses: 1}},
		CommitPlayer{PlayerID: "c", Name: "Cal", Side: game.SideBlue, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Wins: 1}},
	)
	// Players without games are never ranked.
	require.NoError(t, s.UpsertPlayer(ctx, "d", "Dee", at))

	top, err := s.TopScorers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	// Ann and Ben tie on goals; Ben has fewer games.
	assert.Equal(t, []string{"b", "a", "c"}, []string{top[0].ID, top[1].ID, top[2].ID})

	top, err = s.TopScorers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestClearAllStatsRoundTripsThroughRestore(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	seedMatch(t, s, "m1", time.Now(), game.Score{Red: 1},
		CommitPlayer{PlayerID: "a", Name: "Ann", Side: game.SideRed, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Wins: 1, Streak: StreakExtended}},
	)

	b, err := s.ClearAllStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.FileExists(t, b.Path)
	assert.Contains(t, b.Name, "-clear")

	p, err := s.GetPlayer(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Zero(t, p.Goals)
	assert.Zero(t, p.BestStreak)
	m, err := s.RecentMatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	safety, err := s.RestoreBackup(ctx, b.Name)
	require.NoError(t, err)
	require.NotNil(t, safety)
	assert.Contains(t, safety.Name, "-pre_restore")

	p, err = s.GetPlayer(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Goals)
	assert.Equal(t, 1, p.BestStreak)
	m, err = s.RecentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "m1", m.ID)
}

func TestDestructiveOpsRefuseWhenBackupFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	log, _ := test.NewNullLogger()
	s, err := NewSQLiteStore(filepath.Join(dir, "stats.db"), Options{
		Logger:    log,
		BackupDir: filepath.Join(blocker, "backups"),
	})
	require.NoError(t, err)
	defer s.Close()
	ctx := t.Context()

	seedMatch(t, s, "m1", time.Now(), game.Score{Red: 1},
		CommitPlayer{PlayerID: "test_1", Name: "Bot", Side: game.SideRed, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Wins: 1}},
	)

	_, err = s.ClearAllStats(ctx)
	assert.True(t, errors.Is(err, ErrBackupFailed))

	n, _, err := s.PurgeSyntheticPlayers(ctx)
	assert.True(t, errors.Is(err, ErrBackupFailed))
	assert.Zero(t, n)

	ok, _, err := s.DeletePlayer(ctx, "Bot")
	assert.True(t, errors.Is(err, ErrBackupFailed))
	assert.False(t, ok)

	p, err := s.GetPlayer(ctx, "test_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Goals)
}

func TestPurgeSyntheticPlayers(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	at := time.Now()

	n, b, err := s.PurgeSyntheticPlayers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, b)

	seedMatch(t, s, "synthetic-only", at, game.Score{Red: 1},
		CommitPlayer{PlayerID: "fake_1", Name: "F1", Side: game.SideRed, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Wins: 1}},
		CommitPlayer{PlayerID: "test_2", Name: "T2", Side: game.SideBlue,
			Delta: PlayerDelta{Games: 1, Losses: 1}},
	)
	seedMatch(t, s, "mixed", at.Add(time.Minute), game.Score{Blue: 1},
		CommitPlayer{PlayerID: "fake_1", Name: "F1", Side: game.SideRed,
			Delta: PlayerDelta{Games: 1, Losses: 1}},
		CommitPlayer{PlayerID: "real", Name: "Real", Side: game.SideBlue, Goals: 1,
			Delta: PlayerDelta{Goals: 1, Games: 1, Wins: 1}},
	)
	// "testing" is not a synthetic prefix.
	require.NoError(t, s.UpsertPlayer(ctx, "testing", "Tess", at))

	n, b, err = s.PurgeSyntheticPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NotNil(t, b)

	for _, id := range []string{"fake_1", "test_2"} {
		p, err := s.GetPlayer(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, p, id)
	}
	for _, id := range []string{"real", "testing"} {
		p, err := s.GetPlayer(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, p, id)
	}

	m, err := s.RecentMatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "mixed", m.ID)
	assert.Empty(t, m.Red)
	assert.Len(t, m.Blue, 1)
}

func TestDeletePlayer(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", time.Now()))

	ok, b, err := s.DeletePlayer(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)

	ok, b, err = s.DeletePlayer(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, b)

	p, err := s.GetPlayer(ctx, "auth-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestListBackupsNewestFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	first, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)
	second, err := s.CreateBackup(ctx, "Before Upgrade!")
	require.NoError(t, err)
	assert.Contains(t, second.Name, "-before_upgrade.db")

	list, err := s.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Name, list[0].Name)
	assert.Equal(t, first.Name, list[1].Name)
	assert.Equal(t, "before_upgrade", list[0].Reason)
	assert.Equal(t, second.Reason, list[0].Reason)
	assert.Positive(t, list[0].Size)
}

func TestRestoreBackupRejectsUnknownNames(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	for _, name := range []string{
		"../stats.db",
		"garbage",
		"stats-20260301-120000.000-manual.db",
	} {
		_, err := s.RestoreBackup(ctx, name)
		assert.True(t, errors.Is(err, ErrBackupNotFound), name)
	}
}

func TestRestoreCorruptBackupKeepsCurrentDatabase(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.UpsertPlayer(ctx, "auth-1", "Alice", time.Now()))

	require.NoError(t, os.MkdirAll(s.backupDir, 0o755))
	name := "stats-20260301-120000.000-manual.db"
	require.NoError(t, os.WriteFile(filepath.Join(s.backupDir, name),
		bytes.Repeat([]byte("not a database "), 128), 0o644))

	_, err := s.RestoreBackup(ctx, name)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRestoreFailed))

	p, err := s.GetPlayer(ctx, "auth-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Alice", p.Name)
}

func TestWinRate(t *testing.T) {
	assert.Zero(t, Player{}.WinRate())
	assert.InDelta(t, 0.625, Player{Wins: 2, Draws: 1, Losses: 1}.WinRate(), 1e-9)
	assert.InDelta(t, 1.5, Player{Goals: 3, Games: 2}.GoalsPerGame(), 1e-9)
}
