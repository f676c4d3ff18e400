package goals

import (
	"fmt"
	"math"
	"time"

	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/trackerr"
)

// Key identifies a goal. Workout goals are qualified by workout type,
// all other goals have an empty qualifier.
type Key struct {
	Metric    metric.Kind
	Qualifier string
}

func MetricKey(m metric.Kind) Key {
	return Key{Metric: m}
}

func WorkoutKey(wt metric.WorkoutType) Key {
	return Key{Metric: metric.Workout, Qualifier: string(wt)}
}

func (k Key) String() string {
	if k.Qualifier == "" {
		return k.Metric.String()
	}
	return k.Metric.String() + "/" + k.Qualifier
}

func (k Key) validate() error {
	if !k.Metric.IsValid() {
		return fmt.Errorf("%w: unknown metric [%s]", trackerr.ErrInvalidInput, k.Metric)
	}
	if k.Metric == metric.Workout {
		if !metric.WorkoutType(k.Qualifier).IsValid() {
			return fmt.Errorf("%w: workout type [%s]", trackerr.ErrInvalidInput, k.Qualifier)
		}
		return nil
	}
	if k.Qualifier != "" {
		return fmt.Errorf("%w: %s goals take no qualifier", trackerr.ErrInvalidInput, k.Metric)
	}
	return nil
}

// AllKeys lists every goal key, workout goals one per type.
func AllKeys() []Key {
	keys := make([]Key, 0, len(metric.All)+len(metric.WorkoutTypes))
	for _, m := range metric.All {
		if m == metric.Workout {
			for _, wt := range metric.WorkoutTypes {
				keys = append(keys, WorkoutKey(wt))
			}
			continue
		}
		keys = append(keys, MetricKey(m))
	}
	return keys
}

// Goal is the active target of a key, in goal units (hours for sleep and
// workout, the amount unit otherwise).
type Goal struct {
	Key       Key       `json:"-"`
	Target    float64   `json:"target"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDefault bool      `json:"-"`
	// Onboarding is set on the single read that first fell back to the default.
	Onboarding bool `json:"-"`
}

// AmountTarget is the target converted into the units events are logged in.
func (g Goal) AmountTarget() float64 {
	return g.Target * g.Key.Metric.GoalFactor()
}

// Defaults per metric, in goal units. Workout defaults apply per type per month.
var Defaults = map[metric.Kind]float64{
	metric.Water:   2000,
	metric.Calorie: 2000,
	metric.Steps:   8000,
	metric.Sleep:   8,
	metric.Workout: 1,
	metric.Weight:  0,
}

// Bounds of an accepted target. A zero Min is exclusive.
type Bounds struct {
	Min float64
	Max float64
}

var bounds = map[metric.Kind]Bounds{
	metric.Water:   {Min: 250, Max: 10000},
	metric.Calorie: {Min: 800, Max: 5000},
	metric.Steps:   {Min: 100, Max: 100000},
	metric.Sleep:   {Min: 0, Max: 24},
	metric.Workout: {Min: 0, Max: 744},
	metric.Weight:  {Min: 20, Max: 400},
}

func BoundsOf(m metric.Kind) Bounds {
	return bounds[m]
}

func (b Bounds) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if b.Min == 0 && v <= 0 {
		return false
	}
	return v >= b.Min && v <= b.Max
}

func validateTarget(k Key, target float64) error {
	b := BoundsOf(k.Metric)
	if !b.Contains(target) {
		return fmt.Errorf(
			"%w: %s target [%v] not in [%v, %v] %s",
			trackerr.ErrInvalidGoal, k, target, b.Min, b.Max, k.Metric.GoalUnit(),
		)
	}
	return nil
}
