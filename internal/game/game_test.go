package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideJSON(t *testing.T) {
	b, err := json.Marshal(SideBlue)
	require.NoError(t, err)
	assert.Equal(t, `"blue"`, string(b))

	for in, want := range map[string]Side{`"red"`: SideRed, `2`: SideBlue, `"Spectators"`: SideSpectators} {
		var s Side
		require.NoError(t, json.Unmarshal([]byte(in), &s), in)
		assert.Equal(t, want, s, in)
	}

	var s Side
	assert.Error(t, json.Unmarshal([]byte(`"green"`), &s))
}

func TestScore(t *testing.T) {
	s := Score{Red: 3, Blue: 1}
	assert.Equal(t, 3, s.For(SideRed))
	assert.Equal(t, 3, s.Against(SideBlue))
	assert.Zero(t, s.For(SideSpectators))
	assert.Equal(t, "3-1", s.String())
	assert.Equal(t, SideRed, SideBlue.Opponent())
	assert.False(t, SideSpectators.Playing())

	s.Add(SideBlue)
	s.Add(SideSpectators)
	assert.Equal(t, Score{Red: 3, Blue: 2}, s)
}
