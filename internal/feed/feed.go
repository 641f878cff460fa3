// Package feed decodes a recorded or live stream of room events, one JSON
// object per line, and dispatches them to the engine.
package feed

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
	"github.com/edvart/haxstats/internal/touch"
)

const maxLineSize = 1 << 20

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMissingID   = errors.New("event has no player id")
)

// Sink receives decoded events. The coordinator implements it.
type Sink interface {
	RecordJoin(ctx context.Context, id, name string, at time.Time) error
	RecordLeave(id string, at time.Time)
	StartMatch(ctx context.Context, at time.Time, participants []aggregator.Participant) error
	RecordGoal(ctx context.Context, at time.Time, side game.Side, score *game.Score) error
	RecordTerminalResult(ctx context.Context, score game.Score) error
	Sample(s touch.Sample)
	StopMatch(ctx context.Context, at time.Time) (*store.MatchCommit, error)
	HandleChat(ctx context.Context, id, text string) (string, bool, error)
}

type wirePlayer struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Side game.Side      `json:"side"`
	X    *float64       `json:"x"`
	Y    *float64       `json:"y"`
	Pos  *game.Position `json:"position"`
}

func (p wirePlayer) position() *game.Position {
	if p.Pos != nil {
		return p.Pos
	}
	if p.X != nil && p.Y != nil {
		return &game.Position{X: *p.X, Y: *p.Y}
	}
	return nil
}

// Event is one line of the feed. Fields not used by a type are ignored.
type Event struct {
	Type         string         `json:"type"`
	At           time.Time      `json:"at"`
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Text         string         `json:"text"`
	Side         game.Side      `json:"side"`
	Score        *game.Score    `json:"score"`
	Ball         *game.Position `json:"ball"`
	Players      []wirePlayer   `json:"players"`
	Participants []wirePlayer   `json:"participants"`
}

// Parse decodes a single feed line.
func Parse(line []byte) (Event, error) {
	var e Event
	if err := sonic.ConfigDefault.Unmarshal(line, &e); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	return e, nil
}

// Stats summarises a replay.
type Stats struct {
	Lines   int
	Applied int
	Skipped int
	Commits int
}

type Replayer struct {
	sink    Sink
	log     logrus.FieldLogger
	metrics *metrics.Manager
	now     func() time.Time
}

func NewReplayer(sink Sink, log logrus.FieldLogger, m *metrics.Manager) *Replayer {
	return &Replayer{
		sink:    sink,
		log:     log.WithField("component", "feed"),
		metrics: m,
		now:     time.Now,
	}
}

// Replay reads r until EOF or until ctx is cancelled. Lines that cannot be
// decoded or applied are logged and skipped.
func (rp *Replayer) Replay(ctx context.Context, r io.Reader) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		log := rp.log.WithField("line", st.Lines)
		e, err := Parse([]byte(line))
		if err != nil {
			log.WithError(err).Warn("Skipping malformed feed line")
			rp.metrics.FeedError()
			st.Skipped++
			continue
		}

		committed, err := rp.apply(ctx, e)
		switch {
		case ctx.Err() != nil:
			return st, ctx.Err()
		case errors.Is(err, aggregator.ErrNotRunning):
			log.WithField("type", e.Type).Debug("Match event outside of a match")
			st.Skipped++
		case err != nil:
			log.WithError(err).WithField("type", e.Type).Warn("Feed event not applied")
			rp.metrics.FeedError()
			st.Skipped++
		default:
			st.Applied++
			if committed {
				st.Commits++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return st, errors.Wrap(err, "read feed")
	}

	rp.log.WithFields(logrus.Fields{
		"lines":   st.Lines,
		"applied": st.Applied,
		"skipped": st.Skipped,
		"matches": st.Commits,
	}).Info("Feed finished")
	return st, nil
}

func (rp *Replayer) apply(ctx context.Context, e Event) (bool, error) {
	at := e.At
	if at.IsZero() {
		at = rp.now()
	}

	switch e.Type {
	case "join":
		if e.ID == "" {
			return false, ErrMissingID
		}
		return false, rp.sink.RecordJoin(ctx, e.ID, e.Name, at)
	case "leave":
		if e.ID == "" {
			return false, ErrMissingID
		}
		rp.sink.RecordLeave(e.ID, at)
		return false, nil
	case "start":
		ps := make([]aggregator.Participant, 0, len(e.Participants))
		for _, p := range e.Participants {
			ps = append(ps, aggregator.Participant{ID: p.ID, Name: p.Name, Side: p.Side})
		}
		return false, rp.sink.StartMatch(ctx, at, ps)
	case "goal":
		if !e.Side.Playing() {
			return false, errors.Newf("goal for %s", e.Side)
		}
		return false, rp.sink.RecordGoal(ctx, at, e.Side, e.Score)
	case "result":
		if e.Score == nil {
			return false, errors.New("result without score")
		}
		return false, rp.sink.RecordTerminalResult(ctx, *e.Score)
	case "stop":
		commit, err := rp.sink.StopMatch(ctx, at)
		return commit != nil, err
	case "sample":
		s := touch.Sample{At: at, Ball: e.Ball, Players: make([]touch.PlayerSample, 0, len(e.Players))}
		for _, p := range e.Players {
			s.Players = append(s.Players, touch.PlayerSample{ID: p.ID, Side: p.Side, Position: p.position()})
		}
		rp.sink.Sample(s)
		return false, nil
	case "chat":
		reply, ok, err := rp.sink.HandleChat(ctx, e.ID, e.Text)
		if err != nil {
			return false, err
		}
		if ok {
			rp.log.WithFields(logrus.Fields{"player_id": e.ID, "command": e.Text}).Info(reply)
		}
		return false, nil
	default:
		return false, errors.Wrapf(ErrUnknownType, "%q", e.Type)
	}
}
