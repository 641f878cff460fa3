package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/edvart/haxstats/internal/aggregator"
	"github.com/edvart/haxstats/internal/chatcmd"
	"github.com/edvart/haxstats/internal/coordinator"
	"github.com/edvart/haxstats/internal/feed"
	"github.com/edvart/haxstats/internal/matchrecorder"
)

func (a *app) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file|->",
		Short: "Run a recorded JSONL event feed through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "open feed")
				}
				defer f.Close()
				r = f
			}

			s, err := a.openOrCreateStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rec := matchrecorder.New(s, a.log, nil, 0)
			agg := aggregator.New(s, rec, a.log,
				aggregator.WithAssistWindow(a.cfg.AssistWindow()),
				aggregator.WithTouchDebounce(a.cfg.TouchDebounce()),
			)
			coord := coordinator.New(s, agg, chatcmd.New(s, a.cfg.RankLimit, a.log, nil), a.log)

			ctx, cancel := context.WithCancel(cmd.Context())
			var wg conc.WaitGroup
			wg.Go(func() { coord.Run(ctx) })

			st, err := feed.NewReplayer(coord, a.log, nil).Replay(ctx, r)
			cancel()
			wg.Wait()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d lines, %d applied, %d skipped, %d %s recorded\n",
				st.Lines, st.Applied, st.Skipped, st.Commits, plural(st.Commits, "match", "matches"))
			return nil
		},
	}
}
