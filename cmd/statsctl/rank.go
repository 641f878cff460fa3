package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

func (a *app) rankCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Show the top scorers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				limit = a.cfg.RankLimit
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			players, err := s.TopScorers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(players) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No players have played yet.")
				return nil
			}

			t := tablewriter.NewTable(cmd.OutOrStdout(), tablewriter.WithConfig(tablewriter.Config{
				Row: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
			}))
			t.Header("#", "NAME", "GOALS", "ASSISTS", "GAMES", "G/GAME", "W/D/L", "WIN%")
			for i, p := range players {
				t.Append(
					fmt.Sprintf("%d", i+1),
					p.Name,
					fmt.Sprintf("%d", p.Goals),
					fmt.Sprintf("%d", p.Assists),
					fmt.Sprintf("%d", p.Games),
					fmt.Sprintf("%.2f", p.GoalsPerGame()),
					fmt.Sprintf("%d/%d/%d", p.Wins, p.Draws, p.Losses),
					fmt.Sprintf("%.1f%%", 100*p.WinRate()),
				)
			}
			return t.Render()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of players (default rank_limit)")
	return cmd
}
