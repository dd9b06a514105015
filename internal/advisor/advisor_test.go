package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormLevelDefaultsToMedium(t *testing.T) {
	assert.Equal(t, LevelHigh, normLevel(" high "))
	assert.Equal(t, LevelLow, normLevel("LOW"))
	assert.Equal(t, LevelMedium, normLevel("medium"))
	assert.Equal(t, LevelMedium, normLevel("extreme"), "off-shape levels dampen to MEDIUM")
	assert.Equal(t, LevelMedium, normLevel(""))
}

func TestOneOfNormalizesAndRejects(t *testing.T) {
	got, ok := oneOf(" exit ", ActionHold, ActionExit)
	assert.True(t, ok)
	assert.Equal(t, ActionExit, got)

	_, ok = oneOf("PANIC", ActionHold, ActionExit)
	assert.False(t, ok, "an unrecognized action is an abstention, not a guess")
}
