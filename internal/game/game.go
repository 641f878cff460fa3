// Package game holds the small vocabulary shared by every part of the stats
// engine: sides, scores and pitch positions.
package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Side identifies a team. Spectators never take part in a match.
type Side int

const (
	SideSpectators Side = 0
	SideRed        Side = 1
	SideBlue       Side = 2
)

func (s Side) String() string {
	switch s {
	case SideSpectators:
		return "spectators"
	case SideRed:
		return "red"
	case SideBlue:
		return "blue"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ParseSide accepts a side name or its number.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "spectators", "spec":
		return SideSpectators, nil
	case "1", "red":
		return SideRed, nil
	case "2", "blue":
		return SideBlue, nil
	}
	return SideSpectators, fmt.Errorf("unknown side %q", s)
}

func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts a quoted side name or a bare number.
func (s *Side) UnmarshalJSON(b []byte) error {
	str := string(b)
	if uq, err := strconv.Unquote(str); err == nil {
		str = uq
	}
	side, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Playing reports whether s is one of the two competing sides.
func (s Side) Playing() bool {
	return s == SideRed || s == SideBlue
}

// Opponent returns the other competing side.
func (s Side) Opponent() Side {
	switch s {
	case SideRed:
		return SideBlue
	case SideBlue:
		return SideRed
	default:
		return SideSpectators
	}
}

// Score is the goal count of both sides.
type Score struct {
	Red  int `json:"red"`
	Blue int `json:"blue"`
}

// For returns the goals scored by side.
func (s Score) For(side Side) int {
	switch side {
	case SideRed:
		return s.Red
	case SideBlue:
		return s.Blue
	default:
		return 0
	}
}

// Against returns the goals conceded by side.
func (s Score) Against(side Side) int {
	return s.For(side.Opponent())
}

// Add counts one goal for side. Other sides are ignored.
func (s *Score) Add(side Side) {
	switch side {
	case SideRed:
		s.Red++
	case SideBlue:
		s.Blue++
	}
}

func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.Red, s.Blue)
}

// Position is a point on the pitch.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
