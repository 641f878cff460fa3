package matchrecorder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
)

// CommitStore is the store operation the recorder needs.
type CommitStore interface {
	CommitMatch(ctx context.Context, commit *store.MatchCommit) error
}

// Recorder saves completed matches to the database.
type Recorder struct {
	store   CommitStore
	log     logrus.FieldLogger
	metrics *metrics.Manager
	timeout time.Duration
}

// New creates a new match recorder. A zero timeout means the caller's
// context alone bounds the commit.
func New(s CommitStore, log logrus.FieldLogger, m *metrics.Manager, timeout time.Duration) *Recorder {
	return &Recorder{
		store:   s,
		log:     log.WithField("component", "matchrecorder"),
		metrics: m,
		timeout: timeout,
	}
}

// Record writes the match, its performances and every player delta in one
// transaction.
func (r *Recorder) Record(ctx context.Context, commit *store.MatchCommit) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.log.WithFields(logrus.Fields{
		"match_id": commit.Match.ID,
		"score":    commit.Match.Score().String(),
		"players":  len(commit.Players),
	})

	if err := r.store.CommitMatch(ctx, commit); err != nil {
		log.WithError(err).Error("Failed to record match")
		return err
	}

	r.metrics.MatchCommitted()
	log.WithField("duration_s", commit.Match.DurationSeconds).Info("Recorded completed match")
	return nil
}
