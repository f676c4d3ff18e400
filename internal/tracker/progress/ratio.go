package progress

import (
	"fmt"
	"math"
)

// Ratio is total / target, 0 whenever the target is not positive.
func Ratio(total, target float64) float64 {
	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return 0
	}
	r := total / target
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	return r
}

// Clamp bounds a ratio to [0, 1] for ring and bar fills.
func Clamp(r float64) float64 {
	return math.Max(0, math.Min(r, 1))
}

// Multiple splits a ratio into full goal cycles and the wrapped remainder,
// one concentric ring per completed cycle.
type Multiple struct {
	Whole     int
	Remainder float64
}

func OverGoal(r float64) Multiple {
	if r <= 1 {
		return Multiple{Remainder: Clamp(r)}
	}
	whole := math.Floor(r)
	return Multiple{
		Whole:     int(whole),
		Remainder: r - whole,
	}
}

// Label is the "×N" indicator, empty until the goal is exceeded.
func (m Multiple) Label() string {
	if m.Whole < 1 {
		return ""
	}
	return fmt.Sprintf("×%d", m.Whole)
}
