// Package aggregator turns the events of one match into career stat deltas.
//
// An Aggregator owns the working state of at most one running match together
// with its touch history. It is not safe for concurrent use: the coordinator
// feeds it from a single goroutine.
package aggregator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/attribution"
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
	"github.com/edvart/haxstats/internal/touch"
)

var (
	// ErrMissingScore is returned by Stop when no final score is known. The
	// match is discarded and nothing is written.
	ErrMissingScore = errors.New("final score unavailable")
	// ErrNotRunning is returned for match events that arrive while idle.
	ErrNotRunning = errors.New("no match running")
)

// PlayerStore is the part of the store the aggregator writes outside of the
// final commit.
type PlayerStore interface {
	IncrementOwnGoals(ctx context.Context, id string) error
}

// Committer persists a completed match atomically.
type Committer interface {
	Record(ctx context.Context, commit *store.MatchCommit) error
}

// ScoreSource reports the live score of the game room, if it can.
type ScoreSource interface {
	LiveScore(ctx context.Context) (game.Score, bool)
}

// Participant is a player taking part in a match.
type Participant struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Side game.Side `json:"side"`
}

type tally struct {
	goals   int
	assists int
}

type matchState struct {
	id           string
	startedAt    time.Time
	participants []Participant
	bySide       map[string]game.Side
	tallies      map[string]*tally
	// latest is nil until the first goal, then counts every goal unless
	// the game reports the score itself.
	latest *game.Score
	final  *game.Score
}

func (m *matchState) participant(id string) (Participant, bool) {
	for _, p := range m.participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithScoreSource(src ScoreSource) Option {
	return func(a *Aggregator) { a.scores = src }
}

func WithAssistWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.assistWindow = d
		}
	}
}

func WithTouchDebounce(d time.Duration) Option {
	return func(a *Aggregator) { a.tracker = touch.NewTracker(d) }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithIDGenerator replaces the random match ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

type Aggregator struct {
	players      PlayerStore
	committer    Committer
	log          logrus.FieldLogger
	metrics      *metrics.Manager
	scores       ScoreSource
	assistWindow time.Duration
	tracker      *touch.Tracker
	newID        func() string

	match *matchState
}

func New(players PlayerStore, committer Committer, log logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		players:      players,
		committer:    committer,
		log:          log.WithField("component", "aggregator"),
		assistWindow: attribution.DefaultAssistWindow,
		tracker:      touch.NewTracker(touch.DefaultDebounce),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Running reports whether a match is being tracked.
func (a *Aggregator) Running() bool {
	return a.match != nil
}

// MatchID returns the ID of the running match, or "" when idle.
func (a *Aggregator) MatchID() string {
	if a.match == nil {
		return ""
	}
	return a.match.id
}

// Participants returns the snapshot taken at the start of the running match.
func (a *Aggregator) Participants() []Participant {
	if a.match == nil {
		return nil
	}
	out := make([]Participant, len(a.match.participants))
	copy(out, a.match.participants)
	return out
}

// Start begins tracking a match with the given players. Players without an
// identity or without a side are left out. A match that is already running
// is discarded.
func (a *Aggregator) Start(at time.Time, players []Participant) string {
	if a.match != nil {
		a.log.WithField("match_id", a.match.id).Warn("Match started while another was running, discarding it")
		a.metrics.MatchAborted("restarted")
	}

	m := &matchState{
		id:        a.newID(),
		startedAt: at,
		bySide:    make(map[string]game.Side),
		tallies:   make(map[string]*tally),
	}
	for _, p := range players {
		if p.ID == "" || !p.Side.Playing() {
			continue
		}
		if _, dup := m.bySide[p.ID]; dup {
			continue
		}
		m.participants = append(m.participants, p)
		m.bySide[p.ID] = p.Side
		m.tallies[p.ID] = &tally{}
	}

	a.match = m
	a.tracker.Reset()
	a.metrics.MatchStarted()

	a.log.WithFields(logrus.Fields{
		"match_id":     m.id,
		"participants": len(m.participants),
	}).Info("Match started")
	return m.id
}

// Sample feeds a position snapshot to the touch tracker. Only participants
// are considered.
func (a *Aggregator) Sample(s touch.Sample) {
	if a.match == nil {
		return
	}
	players := make([]touch.PlayerSample, 0, len(s.Players))
	for _, p := range s.Players {
		if _, ok := a.match.bySide[p.ID]; ok {
			players = append(players, p)
		}
	}
	s.Players = players

	if _, found, recorded := a.tracker.Observe(s); found && recorded {
		a.metrics.TouchRecorded()
	}
}

// GoalOutcome describes how a goal was credited.
type GoalOutcome struct {
	MatchID  string
	Side     game.Side
	Score    *game.Score
	Scorer   *Participant
	Assister *Participant
	OwnGoal  bool
}

// Goal attributes a goal awarded to receiving. score is the score after the
// goal when the game reports it; without it the goal is added to the
// running score. An own goal is written to the store immediately; everything
// else is tallied until Stop.
func (a *Aggregator) Goal(ctx context.Context, receiving game.Side, score *game.Score) (GoalOutcome, error) {
	m := a.match
	if m == nil {
		return GoalOutcome{}, ErrNotRunning
	}

	var s game.Score
	switch {
	case score != nil:
		s = *score
	case m.latest != nil:
		s = *m.latest
		fallthrough
	default:
		s.Add(receiving)
	}
	m.latest = &s
	out := GoalOutcome{MatchID: m.id, Side: receiving, Score: &s}

	res := attribution.Attribute(a.tracker.History(), receiving, a.assistWindow)
	log := a.log.WithFields(logrus.Fields{"match_id": m.id, "side": receiving})
	if !res.Attributed() {
		log.Info("Goal with no recorded touches, not attributed")
		a.metrics.GoalAttributed(metrics.GoalUnattributed)
		return out, nil
	}

	if p, ok := m.participant(res.Scorer.PlayerID); ok {
		out.Scorer = &p
	}
	out.OwnGoal = res.OwnGoal

	if res.Assister != nil {
		if p, ok := m.participant(res.Assister.PlayerID); ok {
			m.tallies[p.ID].assists++
			out.Assister = &p
			a.metrics.AssistCredited()
		}
	}

	if !res.OwnGoal {
		if out.Scorer != nil {
			m.tallies[out.Scorer.ID].goals++
		}
		a.metrics.GoalAttributed(metrics.GoalRegular)
		log.WithField("player_id", res.Scorer.PlayerID).Info("Goal")
		return out, nil
	}

	a.metrics.GoalAttributed(metrics.GoalOwn)
	log = log.WithField("player_id", res.Scorer.PlayerID)
	err := a.players.IncrementOwnGoals(ctx, res.Scorer.PlayerID)
	switch {
	case errors.Is(err, store.ErrPlayerNotFound):
		log.Warn("Own goal by unknown player, not recorded")
	case err != nil:
		return out, errors.Wrap(err, "record own goal")
	default:
		log.Info("Own goal")
	}
	return out, nil
}

// TerminalResult records the official final score of the running match. It
// takes precedence over any other score source at Stop.
func (a *Aggregator) TerminalResult(score game.Score) error {
	if a.match == nil {
		return ErrNotRunning
	}
	a.match.final = &score
	a.log.WithFields(logrus.Fields{"match_id": a.match.id, "score": score.String()}).Info("Final result captured")
	return nil
}

func (a *Aggregator) resolveScore(ctx context.Context, m *matchState) (game.Score, bool) {
	if m.final != nil {
		return *m.final, true
	}
	if a.scores != nil {
		if s, ok := a.scores.LiveScore(ctx); ok {
			return s, true
		}
	}
	if m.latest != nil {
		return *m.latest, true
	}
	return game.Score{}, false
}

// Stop ends the running match and commits it. Stopping while idle does
// nothing and returns a nil commit. The working state is discarded whether
// or not the commit succeeds.
func (a *Aggregator) Stop(ctx context.Context, at time.Time) (*store.MatchCommit, error) {
	m := a.match
	if m == nil {
		return nil, nil
	}
	a.match = nil
	a.tracker.Reset()

	log := a.log.WithField("match_id", m.id)

	score, ok := a.resolveScore(ctx, m)
	if !ok {
		log.Warn("Match stopped without a known score, discarding it")
		a.metrics.MatchAborted("missing_score")
		return nil, ErrMissingScore
	}

	commit := a.buildCommit(m, score, at)
	if err := a.committer.Record(ctx, commit); err != nil {
		a.metrics.MatchAborted("store_error")
		return nil, err
	}
	return commit, nil
}

func (a *Aggregator) buildCommit(m *matchState, score game.Score, at time.Time) *store.MatchCommit {
	duration := at.Sub(m.startedAt)
	if duration < 0 {
		duration = 0
	}
	seconds := int(duration / time.Second)

	commit := &store.MatchCommit{
		Match: store.Match{
			ID:              m.id,
			PlayedAt:        at,
			ScoreRed:        score.Red,
			ScoreBlue:       score.Blue,
			DurationSeconds: seconds,
		},
		Players: make([]store.CommitPlayer, 0, len(m.participants)),
	}

	for _, p := range m.participants {
		t := m.tallies[p.ID]
		commit.Players = append(commit.Players, store.CommitPlayer{
			PlayerID: p.ID,
			Name:     p.Name,
			Side:     p.Side,
			Goals:    t.goals,
			Assists:  t.assists,
			Delta:    Delta(score, p.Side, t.goals, t.assists, seconds/60),
		})
	}
	return commit
}
