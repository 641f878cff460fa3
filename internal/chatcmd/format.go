package chatcmd

import (
	"fmt"
	"strings"

	"github.com/edvart/haxstats/internal/store"
)

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// FormatStats renders a player's career summary on one line.
func FormatStats(p *store.Player) string {
	return fmt.Sprintf(
		"%s | Games: %d | W/D/L: %d/%d/%d | Win rate: %.1f%% | Goals: %d (%.2f/game) | Assists: %d | Own goals: %d | Clean sheets: %d | Minutes: %d | Streak: %d (best %d)",
		p.Name, p.Games, p.Wins, p.Draws, p.Losses, p.WinRate()*100,
		p.Goals, p.GoalsPerGame(), p.Assists, p.OwnGoals, p.CleanSheets,
		p.MinutesPlayed, p.CurrentStreak, p.BestStreak,
	)
}

// FormatRank renders a 1-indexed top scorer list.
func FormatRank(players []store.Player) string {
	var b strings.Builder
	b.WriteString("Top scorers:")
	for i, p := range players {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, p.Name, plural(p.Goals, "goal", "goals"))
	}
	return b.String()
}

func scorers(players []store.MatchPlayerInfo) string {
	var parts []string
	for _, p := range players {
		if p.Goals > 0 {
			parts = append(parts, fmt.Sprintf("%s (%d)", p.Name, p.Goals))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// FormatMatch renders the score line and the scorers of each side.
func FormatMatch(m *store.MatchWithPlayers) string {
	return fmt.Sprintf("Last match: Red %d - %d Blue\nRed scorers: %s\nBlue scorers: %s",
		m.ScoreRed, m.ScoreBlue, scorers(m.Red), scorers(m.Blue))
}
