// internal/engine/engine_test.go
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresetForClampsLevels(t *testing.T) {
	lowest := PresetFor(1)
	highest := PresetFor(8)

	assert.Equal(t, lowest, PresetFor(0))
	assert.Equal(t, lowest, PresetFor(-3))
	assert.Equal(t, highest, PresetFor(9))
	assert.Equal(t, highest, PresetFor(100))
}

func TestPresetsScaleMonotonically(t *testing.T) {
	prev := PresetFor(1)
	for level := 2; level <= 8; level++ {
		cur := PresetFor(level)
		assert.GreaterOrEqual(t, cur.Depth, prev.Depth, "depth at level %d", level)
		assert.GreaterOrEqual(t, cur.SkillLevel, prev.SkillLevel, "skill at level %d", level)
		assert.GreaterOrEqual(t, cur.MoveTime, prev.MoveTime, "movetime at level %d", level)
		prev = cur
	}
}
