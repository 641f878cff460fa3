package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/game"
	"github.com/edvart/haxstats/internal/store"
	"github.com/edvart/haxstats/internal/touch"
)

var (
	ErrMatchInProgress   = errors.New("a match is in progress")
	ErrRestoreInProgress = errors.New("a restore is in progress")
)

const restoringReply = "Stats are being restored, try again in a moment."

// Store is what the coordinator calls on the store directly.
type Store interface {
	UpsertPlayer(ctx context.Context, id, name string, seenAt time.Time) error
	RestoreBackup(ctx context.Context, name string) (*store.Backup, error)
}

// Chat answers chat commands.
type Chat interface {
	Handle(ctx context.Context, callerID, text string) (string, bool)
}

// Coordinator owns the room roster and the match aggregator and processes
// commands sequentially.
type Coordinator struct {
	commands    chan Command
	events      chan Event
	subscribers []chan Event
	state       *State
	agg         *aggregator.Aggregator
	store       Store
	chat        Chat
	log         logrus.FieldLogger
}

// New creates a new Coordinator.
func New(s Store, agg *aggregator.Aggregator, chat Chat, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		commands:    make(chan Command, 256),
		events:      make(chan Event, 100),
		subscribers: make([]chan Event, 0),
		state:       NewState(),
		agg:         agg,
		store:       s,
		chat:        chat,
		log:         log.WithField("component", "coordinator"),
	}
}

// Send submits a command to the coordinator.
func (c *Coordinator) Send(cmd Command) {
	c.commands <- cmd
}

// Events returns the main event channel for consumers.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Subscribe creates a new event channel for a consumer. It must be called
// before Run.
func (c *Coordinator) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.log.Info("Coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Coordinator shutting down")
			return
		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
		}
	}
}

func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug("Main event channel full, dropping event")
	}

	for _, ch := range c.subscribers {
		select {
		case ch <- e:
		default:
			c.log.Warn("Subscriber event channel full, dropping event")
		}
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case PlayerJoined:
		err := c.handlePlayerJoined(ctx, cmd)
		if cmd.Response != nil {
			cmd.Response <- err
		}
	case PlayerLeft:
		c.handlePlayerLeft(cmd)
	case StartMatch:
		err := c.handleStartMatch(cmd)
		if cmd.Response != nil {
			cmd.Response <- err
		}
	case RecordGoal:
		err := c.handleGoal(ctx, cmd)
		if cmd.Response != nil {
			cmd.Response <- err
		}
	case RecordTerminalResult:
		err := c.agg.TerminalResult(cmd.Score)
		if cmd.Response != nil {
			cmd.Response <- err
		}
	case RecordSample:
		c.agg.Sample(cmd.Sample)
	case StopMatch:
		res := c.handleStopMatch(ctx, cmd)
		if cmd.Response != nil {
			cmd.Response <- res
		}
	case ChatMessage:
		reply := c.handleChat(ctx, cmd)
		if cmd.Response != nil {
			cmd.Response <- reply
		}
	case AdminRestoreBackup:
		c.handleAdminRestore(ctx, cmd)
	case restoreDone:
		c.handleRestoreDone(ctx, cmd)
	case getStateCmd:
		cmd.Response <- c.snapshot()
	}
}

func (c *Coordinator) handlePlayerJoined(ctx context.Context, cmd PlayerJoined) error {
	if cmd.PlayerID == "" {
		c.log.WithField("name", cmd.Name).Debug("Player without identity joined, not tracked")
		return nil
	}
	c.state.Roster[cmd.PlayerID] = Player{ID: cmd.PlayerID, Name: cmd.Name, JoinedAt: cmd.At}

	if c.state.Restoring {
		c.state.PendingJoins = append(c.state.PendingJoins, cmd)
		return nil
	}
	if err := c.store.UpsertPlayer(ctx, cmd.PlayerID, cmd.Name, cmd.At); err != nil {
		c.log.WithError(err).WithField("player_id", cmd.PlayerID).Error("Failed to record player join")
		return err
	}
	c.log.WithFields(logrus.Fields{"player_id": cmd.PlayerID, "name": cmd.Name}).Debug("Player joined")
	return nil
}

func (c *Coordinator) handlePlayerLeft(cmd PlayerLeft) {
	delete(c.state.Roster, cmd.PlayerID)
	c.log.WithField("player_id", cmd.PlayerID).Debug("Player left")
}

func (c *Coordinator) handleStartMatch(cmd StartMatch) error {
	if c.state.Restoring {
		c.log.Warn("Match start ignored while a backup is being restored")
		return ErrRestoreInProgress
	}

	participants := make([]aggregator.Participant, len(cmd.Participants))
	copy(participants, cmd.Participants)
	for i, p := range participants {
		if p.Name == "" {
			participants[i].Name = c.state.Name(p.ID)
		}
	}

	id := c.agg.Start(cmd.At, participants)
	c.emit(MatchStarted{MatchID: id, At: cmd.At, Participants: c.agg.Participants()})
	return nil
}

func (c *Coordinator) handleGoal(ctx context.Context, cmd RecordGoal) error {
	out, err := c.agg.Goal(ctx, cmd.Side, cmd.Score)
	if errors.Is(err, aggregator.ErrNotRunning) {
		c.log.WithField("side", cmd.Side).Debug("Goal outside of a match ignored")
		return err
	}

	e := GoalScored{
		MatchID: out.MatchID,
		At:      cmd.At,
		Side:    out.Side,
		Score:   out.Score,
		OwnGoal: out.OwnGoal,
	}
	if out.Scorer != nil {
		e.Scorer = out.Scorer.Name
	}
	if out.Assister != nil {
		e.Assister = out.Assister.Name
	}
	c.emit(e)
	return err
}

func (c *Coordinator) handleStopMatch(ctx context.Context, cmd StopMatch) StopResult {
	matchID := c.agg.MatchID()
	commit, err := c.agg.Stop(ctx, cmd.At)
	switch {
	case err != nil:
		reason := "store_error"
		if errors.Is(err, aggregator.ErrMissingScore) {
			reason = "missing_score"
		}
		c.emit(MatchAborted{MatchID: matchID, Reason: reason})
	case commit != nil:
		c.emit(MatchCommitted{
			MatchID:         commit.Match.ID,
			Score:           commit.Match.Score(),
			DurationSeconds: commit.Match.DurationSeconds,
			Players:         len(commit.Players),
		})
	}
	return StopResult{Commit: commit, Err: err}
}

func (c *Coordinator) handleChat(ctx context.Context, cmd ChatMessage) ChatReply {
	if c.chat == nil {
		return ChatReply{}
	}
	if c.state.Restoring {
		if strings.HasPrefix(strings.TrimSpace(cmd.Text), "!") {
			return ChatReply{Text: restoringReply, OK: true}
		}
		return ChatReply{}
	}
	text, ok := c.chat.Handle(ctx, cmd.PlayerID, cmd.Text)
	return ChatReply{Text: text, OK: ok}
}

// handleAdminRestore runs the restore off the loop. While it runs, matches
// cannot start and chat commands get a short notice instead of blocking on
// the store.
func (c *Coordinator) handleAdminRestore(ctx context.Context, cmd AdminRestoreBackup) {
	if cmd.Response == nil {
		cmd.Response = make(chan RestoreResult, 1)
	}
	if c.agg.Running() {
		cmd.Response <- RestoreResult{Err: ErrMatchInProgress}
		return
	}
	if c.state.Restoring {
		cmd.Response <- RestoreResult{Err: ErrRestoreInProgress}
		return
	}
	c.state.Restoring = true
	c.log.WithField("backup", cmd.Name).Warn("Restoring backup")

	go func() {
		safety, err := c.store.RestoreBackup(ctx, cmd.Name)
		done := restoreDone{name: cmd.Name, result: RestoreResult{Safety: safety, Err: err}, reply: cmd.Response}
		select {
		case c.commands <- done:
		case <-ctx.Done():
			cmd.Response <- done.result
		}
	}()
}

func (c *Coordinator) handleRestoreDone(ctx context.Context, cmd restoreDone) {
	c.state.Restoring = false

	pending := c.state.PendingJoins
	c.state.PendingJoins = nil
	for _, j := range pending {
		if err := c.store.UpsertPlayer(ctx, j.PlayerID, j.Name, j.At); err != nil {
			c.log.WithError(err).WithField("player_id", j.PlayerID).Warn("Deferred join not recorded")
		}
	}

	if cmd.result.Err == nil {
		e := BackupRestored{Name: cmd.name}
		if cmd.result.Safety != nil {
			e.SafetyBackup = cmd.result.Safety.Name
		}
		c.emit(e)
	}
	cmd.reply <- cmd.result
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Players:      c.state.Players(),
		MatchID:      c.agg.MatchID(),
		Participants: c.agg.Participants(),
		Restoring:    c.state.Restoring,
	}
}

// getStateCmd is an internal command to safely get a state snapshot.
type getStateCmd struct {
	Response chan Snapshot
}

func (getStateCmd) command() {}

func request[T any](ctx context.Context, c *Coordinator, cmd Command, resp chan T) (T, error) {
	var zero T
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func requestErr(ctx context.Context, c *Coordinator, cmd Command, resp chan error) error {
	err, ctxErr := request(ctx, c, cmd, resp)
	if ctxErr != nil {
		return ctxErr
	}
	return err
}

// State returns a snapshot of the current state.
func (c *Coordinator) State(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	return request(ctx, c, getStateCmd{Response: resp}, resp)
}

func (c *Coordinator) RecordJoin(ctx context.Context, id, name string, at time.Time) error {
	resp := make(chan error, 1)
	return requestErr(ctx, c, PlayerJoined{PlayerID: id, Name: name, At: at, Response: resp}, resp)
}

func (c *Coordinator) RecordLeave(id string, at time.Time) {
	c.Send(PlayerLeft{PlayerID: id, At: at})
}

func (c *Coordinator) StartMatch(ctx context.Context, at time.Time, participants []aggregator.Participant) error {
	resp := make(chan error, 1)
	return requestErr(ctx, c, StartMatch{At: at, Participants: participants, Response: resp}, resp)
}

func (c *Coordinator) RecordGoal(ctx context.Context, at time.Time, side game.Side, score *game.Score) error {
	resp := make(chan error, 1)
	return requestErr(ctx, c, RecordGoal{At: at, Side: side, Score: score, Response: resp}, resp)
}

func (c *Coordinator) RecordTerminalResult(ctx context.Context, score game.Score) error {
	resp := make(chan error, 1)
	return requestErr(ctx, c, RecordTerminalResult{Score: score, Response: resp}, resp)
}

// Sample does not wait for the sample to be processed.
func (c *Coordinator) Sample(s touch.Sample) {
	c.Send(RecordSample{Sample: s})
}

// StopMatch ends the running match. It returns a nil commit if no match was
// running.
func (c *Coordinator) StopMatch(ctx context.Context, at time.Time) (*store.MatchCommit, error) {
	resp := make(chan StopResult, 1)
	res, err := request(ctx, c, StopMatch{At: at, Response: resp}, resp)
	if err != nil {
		return nil, err
	}
	return res.Commit, res.Err
}

// HandleChat returns the reply to a chat line, and false if the line is not
// a command.
func (c *Coordinator) HandleChat(ctx context.Context, id, text string) (string, bool, error) {
	resp := make(chan ChatReply, 1)
	res, err := request(ctx, c, ChatMessage{PlayerID: id, Text: text, Response: resp}, resp)
	return res.Text, res.OK, err
}

// RestoreBackup restores a backup once no match is running. It returns the
// safety backup of the replaced database.
func (c *Coordinator) RestoreBackup(ctx context.Context, name string) (*store.Backup, error) {
	resp := make(chan RestoreResult, 1)
	res, err := request(ctx, c, AdminRestoreBackup{Name: name, Response: resp}, resp)
	if err != nil {
		return nil, err
	}
	return res.Safety, res.Err
}
