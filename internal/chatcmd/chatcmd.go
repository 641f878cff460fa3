// Package chatcmd answers the "!" chat commands from committed stats.
package chatcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
)

const DefaultRankLimit = 10

const (
	msgUnavailable = "Stats are unavailable right now, try again later."
	msgNoPlayers   = "No players ranked yet."
	msgNoMatches   = "No matches played yet."
	msgNoOwnStats  = "You have no stats yet."
	msgHelp        = "Commands: !stats <name>, !me, !rank, !last, !help"
)

// Reader is the read-only part of the store the interpreter queries.
type Reader interface {
	GetPlayer(ctx context.Context, id string) (*store.Player, error)
	GetPlayerByName(ctx context.Context, name string) (*store.Player, error)
	TopScorers(ctx context.Context, limit int) ([]store.Player, error)
	RecentMatch(ctx context.Context) (*store.MatchWithPlayers, error)
}

type Interpreter struct {
	store     Reader
	rankLimit int
	log       logrus.FieldLogger
	metrics   *metrics.Manager
}

func New(r Reader, rankLimit int, log logrus.FieldLogger, m *metrics.Manager) *Interpreter {
	if rankLimit <= 0 {
		rankLimit = DefaultRankLimit
	}
	return &Interpreter{
		store:     r,
		rankLimit: rankLimit,
		log:       log.WithField("component", "chatcmd"),
		metrics:   m,
	}
}

// Handle answers text sent by callerID. ok is false when text is not a
// command, in which case the caller decides what to do with it.
func (in *Interpreter) Handle(ctx context.Context, callerID, text string) (reply string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", false
	}
	name, arg, _ := strings.Cut(text[1:], " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	var err error
	switch name {
	case "stats":
		if arg == "" {
			reply, err = in.own(ctx, callerID)
		} else {
			reply, err = in.stats(ctx, arg)
		}
	case "me":
		reply, err = in.own(ctx, callerID)
	case "rank":
		reply, err = in.rank(ctx)
	case "last":
		reply, err = in.last(ctx)
	case "help":
		reply = msgHelp
	default:
		return "", false
	}

	in.metrics.ChatCommand(name)
	if err != nil {
		in.log.WithError(err).WithField("command", name).Error("Chat command failed")
		return msgUnavailable, true
	}
	return reply, true
}

func (in *Interpreter) stats(ctx context.Context, name string) (string, error) {
	p, err := in.store.GetPlayerByName(ctx, name)
	if err != nil {
		return "", err
	}
	if p == nil {
		return fmt.Sprintf("Player %q not found.", name), nil
	}
	return FormatStats(p), nil
}

func (in *Interpreter) own(ctx context.Context, callerID string) (string, error) {
	if callerID == "" {
		return msgNoOwnStats, nil
	}
	p, err := in.store.GetPlayer(ctx, callerID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return msgNoOwnStats, nil
	}
	return FormatStats(p), nil
}

func (in *Interpreter) rank(ctx context.Context) (string, error) {
	players, err := in.store.TopScorers(ctx, in.rankLimit)
	if err != nil {
		return "", err
	}
	if len(players) == 0 {
		return msgNoPlayers, nil
	}
	return FormatRank(players), nil
}

func (in *Interpreter) last(ctx context.Context) (string, error) {
	m, err := in.store.RecentMatch(ctx)
	if err != nil {
		return "", err
	}
	if m == nil {
		return msgNoMatches, nil
	}
	return FormatMatch(m), nil
}
