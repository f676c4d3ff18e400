package events

import (
	"fmt"
	"math"
	"time"

	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/trackerr"
)

// Event is a single user-logged measurement, e.g. a glass of water, a meal
// (amount = kcal per serving, quantity = servings) or a workout (minutes,
// with the workout type in the attributes).
type Event struct {
	ID         string            `json:"id"`
	Metric     metric.Kind       `json:"metric"`
	Timestamp  time.Time         `json:"timestamp"`
	Amount     float64           `json:"amount"`
	Quantity   float64           `json:"quantity"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Effective is the amount the event contributes to its bucket total.
// Quantity is taken literally: an entry edited down to 0 servings adds nothing.
func (e Event) Effective() float64 {
	return e.Amount * e.Quantity
}

func (e Event) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Patch holds the mutable fields of an event. Nil fields are left unchanged.
type Patch struct {
	Amount     *float64
	Quantity   *float64
	Attributes map[string]string
}

func (e Event) validate() error {
	if !e.Metric.IsValid() {
		return fmt.Errorf("%w: unknown metric [%s]", trackerr.ErrInvalidInput, e.Metric)
	}
	if !e.Metric.Additive() {
		return fmt.Errorf("%w: %s is a level metric, record it as a sample", trackerr.ErrInvalidInput, e.Metric)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp not set", trackerr.ErrInvalidInput)
	}
	if !validAmount(e.Amount) {
		return fmt.Errorf("%w: amount [%v]", trackerr.ErrInvalidInput, e.Amount)
	}
	if !validAmount(e.Quantity) {
		return fmt.Errorf("%w: quantity [%v]", trackerr.ErrInvalidInput, e.Quantity)
	}
	if e.Metric == metric.Workout {
		if wt := metric.WorkoutType(e.Attr(metric.AttrWorkoutType)); !wt.IsValid() {
			return fmt.Errorf("%w: workout type [%s]", trackerr.ErrInvalidInput, wt)
		}
	}
	return nil
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (e Event) apply(p Patch) Event {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Quantity != nil {
		e.Quantity = *p.Quantity
	}
	if p.Attributes != nil {
		attrs := make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
	}
	return e
}
