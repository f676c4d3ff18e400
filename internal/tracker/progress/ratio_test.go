package progress_test

import (
	"math"
	"testing"

	"github.com/2beens/fittracker/internal/tracker/progress"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.75, progress.Ratio(1500, 2000))
	assert.Equal(t, 0.0, progress.Ratio(0, 2000))
	assert.InDelta(t, 1.3, progress.Ratio(2600, 2000), 1e-9)

	// guarded division
	assert.Equal(t, 0.0, progress.Ratio(1500, 0))
	assert.Equal(t, 0.0, progress.Ratio(1500, -10))
	assert.Equal(t, 0.0, progress.Ratio(1500, math.NaN()))
	assert.Equal(t, 0.0, progress.Ratio(1500, math.Inf(1)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.75, progress.Clamp(0.75))
	assert.Equal(t, 1.0, progress.Clamp(1.3))
	assert.Equal(t, 1.0, progress.Clamp(1))
	assert.Equal(t, 0.0, progress.Clamp(-0.2))
}

func TestOverGoal(t *testing.T) {
	m := progress.OverGoal(1.3)
	assert.Equal(t, 1, m.Whole)
	assert.InDelta(t, 0.3, m.Remainder, 1e-9)
	assert.Equal(t, "×1", m.Label())

	m = progress.OverGoal(2.25)
	assert.Equal(t, 2, m.Whole)
	assert.InDelta(t, 0.25, m.Remainder, 1e-9)
	assert.Equal(t, "×2", m.Label())

	m = progress.OverGoal(0.75)
	assert.Equal(t, 0, m.Whole)
	assert.Equal(t, 0.75, m.Remainder)
	assert.Empty(t, m.Label())

	m = progress.OverGoal(1)
	assert.Equal(t, 0, m.Whole)
	assert.Equal(t, 1.0, m.Remainder)

	m = progress.OverGoal(3)
	assert.Equal(t, 3, m.Whole)
	assert.Equal(t, 0.0, m.Remainder)
}
