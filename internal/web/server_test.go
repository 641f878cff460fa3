package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/auth"
	"github.com/edvart/haxstats/internal/coordinator"
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
)

type fakeEngine struct {
	snap       coordinator.Snapshot
	restoreErr error
	restored   []string
	safety     *store.Backup
}

func (f *fakeEngine) State(context.Context) (coordinator.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeEngine) RestoreBackup(_ context.Context, name string) (*store.Backup, error) {
	f.restored = append(f.restored, name)
	return f.safety, f.restoreErr
}

type fixture struct {
	srv     *Server
	store   *store.SQLiteStore
	engine  *fakeEngine
	metrics *metrics.Manager
}

func newFixture(t *testing.T, admin auth.AdminConfig) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stats.db"), store.Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine := &fakeEngine{}
	m := metrics.NewManager()
	srv := NewServer(engine, s, m, log, Config{RankLimit: 2, Admin: admin})
	return &fixture{srv: srv, store: s, engine: engine, metrics: m}
}

var admin = auth.AdminConfig{User: "admin", Password: "secret"}

func (f *fixture) do(method, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.SetBasicAuth(admin.User, admin.Password)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := t.Context()
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.UpsertPlayer(ctx, "auth-a", "Alice", at))
	require.NoError(t, f.store.UpsertPlayer(ctx, "auth-b", "Bob", at))
	require.NoError(t, f.store.UpsertPlayer(ctx, "test_1", "test_1", at))

	score := game.Score{Red: 2, Blue: 1}
	require.NoError(t, f.store.CommitMatch(ctx, &store.MatchCommit{
		Match: store.Match{ID: "m1", PlayedAt: at, ScoreRed: 2, ScoreBlue: 1, DurationSeconds: 300},
		Players: []store.CommitPlayer{
			{PlayerID: "auth-a", Side: game.SideRed, Goals: 2, Delta: aggregator.Delta(score, game.SideRed, 2, 0, 5)},
			{PlayerID: "auth-b", Side: game.SideBlue, Goals: 1, Delta: aggregator.Delta(score, game.SideBlue, 1, 0, 5)},
		},
	}))
}

func TestPlayerEndpoint(t *testing.T) {
	f := newFixture(t, admin)
	f.seed(t)

	rec := f.do(http.MethodGet, "/api/players/alice", false)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[playerResponse](t, rec)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, 2, p.Goals)
	assert.Equal(t, 1, p.Wins)
	assert.InDelta(t, 1.0, p.WinRate, 1e-9)

	rec = f.do(http.MethodGet, "/api/players/Nobody", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankEndpoint(t *testing.T) {
	f := newFixture(t, admin)
	f.seed(t)

	rec := f.do(http.MethodGet, "/api/rank", false)
	require.Equal(t, http.StatusOK, rec.Code)
	ps := decode[[]playerResponse](t, rec)
	require.Len(t, ps, 2)
	assert.Equal(t, "Alice", ps[0].Name)

	rec = f.do(http.MethodGet, "/api/rank?limit=1", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]playerResponse](t, rec), 1)

	rec = f.do(http.MethodGet, "/api/rank?limit=zero", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLastMatchEndpoint(t *testing.T) {
	f := newFixture(t, admin)

	rec := f.do(http.MethodGet, "/api/matches/last", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.seed(t)
	rec = f.do(http.MethodGet, "/api/matches/last", false)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[matchResponse](t, rec)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, 2, m.ScoreRed)
	require.Len(t, m.Red, 1)
	assert.Equal(t, "Alice", m.Red[0].Name)
	require.Len(t, m.Blue, 1)
}

func TestLiveAndCORS(t *testing.T) {
	f := newFixture(t, admin)
	f.engine.snap = coordinator.Snapshot{
		MatchID:      "m2",
		Participants: []aggregator.Participant{{ID: "auth-a", Name: "Alice", Side: game.SideRed}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/live", nil)
	req.Header.Set("Origin", "https://room.example")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), `"matchId":"m2"`)
	assert.Contains(t, rec.Body.String(), `"side":"red"`)
}

func TestAdminRequiresCredentials(t *testing.T) {
	f := newFixture(t, admin)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/admin/stats/clear", false).Code)

	disabled := newFixture(t, auth.AdminConfig{User: "admin"})
	assert.Equal(t, http.StatusForbidden, disabled.do(http.MethodPost, "/admin/stats/clear", true).Code)
}

func TestAdminClearAndBackups(t *testing.T) {
	f := newFixture(t, admin)
	f.seed(t)

	rec := f.do(http.MethodPost, "/admin/stats/clear", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"reason":"clear"`)

	p, err := f.store.GetPlayer(t.Context(), "auth-a")
	require.NoError(t, err)
	assert.Zero(t, p.Goals)

	rec = f.do(http.MethodGet, "/admin/backups", true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]backupResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "clear", list[0].Reason)
	assert.NotEmpty(t, list[0].SizeHuman)

	rec = f.do(http.MethodGet, "/metrics", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `haxstats_backups_total{reason="clear"} 1`)
}

func TestAdminPurgeAndDelete(t *testing.T) {
	f := newFixture(t, admin)
	f.seed(t)

	rec := f.do(http.MethodPost, "/admin/players/purge-synthetic", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)

	rec = f.do(http.MethodDelete, "/admin/players/Ghost", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/admin/players/Bob", true)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetPlayer(t.Context(), "auth-b")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAdminRestoreConflict(t *testing.T) {
	f := newFixture(t, admin)
	f.engine.restoreErr = coordinator.ErrMatchInProgress

	rec := f.do(http.MethodPost, "/admin/backups/stats-20260301-200000.000-clear.db/restore", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{"stats-20260301-200000.000-clear.db"}, f.engine.restored)

	f.engine.restoreErr = store.ErrBackupNotFound
	rec = f.do(http.MethodPost, "/admin/backups/missing.db/restore", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.engine.restoreErr = nil
	f.engine.safety = &store.Backup{Name: "stats-20260301-200100.000-pre_restore.db", Reason: store.ReasonPreRestore, Size: 4096}
	rec = f.do(http.MethodPost, "/admin/backups/stats-20260301-200000.000-clear.db/restore", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pre_restore")
}

func TestSSEBroadcast(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewSSEHub(&fakeEngine{}, log)
	client := &SSEClient{ID: "c1", Channel: make(chan message, 1)}
	hub.clients[client] = true

	hub.broadcast(coordinator.GoalScored{MatchID: "m1", Side: game.SideBlue, Scorer: "Bob"})

	msg := <-client.Channel
	assert.Equal(t, "goal", msg.name)
	assert.True(t, strings.Contains(string(msg.data), `"scorer":"Bob"`))
	assert.True(t, strings.Contains(string(msg.data), `"side":"blue"`))

	// A full channel drops instead of blocking.
	hub.broadcast(coordinator.MatchAborted{MatchID: "m1", Reason: "missing_score"})
	hub.broadcast(coordinator.MatchAborted{MatchID: "m1", Reason: "missing_score"})
	assert.Len(t, client.Channel, 1)
}
