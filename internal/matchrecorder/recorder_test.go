package matchrecorder

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvart/haxstats/internal/store"
)

type fakeStore struct {
	got      *store.MatchCommit
	deadline bool
	err      error
}

func (f *fakeStore) CommitMatch(ctx context.Context, c *store.MatchCommit) error {
	f.got = c
	_, f.deadline = ctx.Deadline()
	return f.err
}

func TestRecordCommitsAndLogs(t *testing.T) {
	log, hook := test.NewNullLogger()
	fs := &fakeStore{}
	r := New(fs, log, nil, time.Second)

	commit := &store.MatchCommit{Match: store.Match{ID: "m1", ScoreRed: 2}}
	require.NoError(t, r.Record(t.Context(), commit))

	assert.Same(t, commit, fs.got)
	assert.True(t, fs.deadline)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "m1", hook.LastEntry().Data["match_id"])
}

func TestRecordReturnsStoreError(t *testing.T) {
	log, hook := test.NewNullLogger()
	fs := &fakeStore{err: errors.New("locked")}
	r := New(fs, log, nil, 0)

	err := r.Record(t.Context(), &store.MatchCommit{Match: store.Match{ID: "m1"}})
	assert.EqualError(t, err, "locked")
	assert.False(t, fs.deadline)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
