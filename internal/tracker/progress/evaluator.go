package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/goals"
	"github.com/2beens/fittracker/internal/tracker/metric"

	"go.opentelemetry.io/otel/attribute"
)

type totaler interface {
	Total(ctx context.Context, m metric.Kind, k bucket.Key) (float64, error)
	TotalsByAttribute(ctx context.Context, m metric.Kind, k bucket.Key, attr string, fill []string) (map[string]float64, error)
}

type goalReader interface {
	Get(ctx context.Context, k goals.Key) (goals.Goal, error)
}

// Progress of one goal within one bucket. Total and Target are both in the
// units events are logged in.
type Progress struct {
	Key       goals.Key
	Bucket    bucket.Key
	Total     float64
	Target    float64
	IsDefault bool
	Ratio     float64
	Clamped   float64
	Over      Multiple
}

func newProgress(gk goals.Key, k bucket.Key, total float64, g goals.Goal) Progress {
	target := g.AmountTarget()
	r := Ratio(total, target)
	return Progress{
		Key:       gk,
		Bucket:    k,
		Total:     total,
		Target:    target,
		IsDefault: g.IsDefault,
		Ratio:     r,
		Clamped:   Clamp(r),
		Over:      OverGoal(r),
	}
}

// Ring is the monthly progress of one workout type.
type Ring struct {
	Type metric.WorkoutType
	Progress
}

// MonthView is a page of the monthly activity view. Future months are Empty
// and carry no rings.
type MonthView struct {
	Window bucket.MonthWindow
	Empty  bool
	Rings  []Ring
}

// Evaluator combines bucket totals with goals. It holds no state of its own:
// identical store contents yield identical results.
type Evaluator struct {
	totals totaler
	goals  goalReader
}

func NewEvaluator(totals totaler, goals goalReader) *Evaluator {
	return &Evaluator{
		totals: totals,
		goals:  goals,
	}
}

// Progress of goal gk in bucket k. Workout goals count only the events of
// their workout type.
func (e *Evaluator) Progress(ctx context.Context, gk goals.Key, k bucket.Key) (_ Progress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("goal", gk.String()),
		attribute.String("bucket", k.String()),
	)

	g, err := e.goals.Get(ctx, gk)
	if err != nil {
		return Progress{}, fmt.Errorf("goal [%s]: %w", gk, err)
	}
	total, err := e.total(ctx, gk, k)
	if err != nil {
		return Progress{}, err
	}
	return newProgress(gk, k, total, g), nil
}

func (e *Evaluator) total(ctx context.Context, gk goals.Key, k bucket.Key) (float64, error) {
	if gk.Metric != metric.Workout {
		return e.totals.Total(ctx, gk.Metric, k)
	}
	byType, err := e.totals.TotalsByAttribute(ctx, metric.Workout, k, metric.AttrWorkoutType, nil)
	if err != nil {
		return 0, err
	}
	return byType[gk.Qualifier], nil
}

// Series returns the progress of n consecutive buckets starting at from,
// chronological and dense.
func (e *Evaluator) Series(ctx context.Context, gk goals.Key, from bucket.Key, n int) ([]Progress, error) {
	g, err := e.goals.Get(ctx, gk)
	if err != nil {
		return nil, fmt.Errorf("goal [%s]: %w", gk, err)
	}

	keys := from.Run(n)
	series := make([]Progress, 0, len(keys))
	for _, k := range keys {
		total, err := e.total(ctx, gk, k)
		if err != nil {
			return nil, err
		}
		series = append(series, newProgress(gk, k, total, g))
	}
	return series, nil
}

// Rings returns one ring per workout type for month, in metric.WorkoutTypes order.
func (e *Evaluator) Rings(ctx context.Context, month bucket.Key) ([]Ring, error) {
	fill := make([]string, len(metric.WorkoutTypes))
	for i, wt := range metric.WorkoutTypes {
		fill[i] = string(wt)
	}
	byType, err := e.totals.TotalsByAttribute(ctx, metric.Workout, month, metric.AttrWorkoutType, fill)
	if err != nil {
		return nil, err
	}

	rings := make([]Ring, 0, len(metric.WorkoutTypes))
	for _, wt := range metric.WorkoutTypes {
		gk := goals.WorkoutKey(wt)
		g, err := e.goals.Get(ctx, gk)
		if err != nil {
			return nil, fmt.Errorf("goal [%s]: %w", gk, err)
		}
		rings = append(rings, Ring{
			Type:     wt,
			Progress: newProgress(gk, month, byType[string(wt)], g),
		})
	}
	return rings, nil
}

// Month resolves the month at offset from the month of now and evaluates its
// rings. Paging into a future month yields an empty view, never data.
func (e *Evaluator) Month(ctx context.Context, cal bucket.Calendar, now time.Time, offset int) (MonthView, error) {
	window := cal.ResolveMonth(now, offset)
	if window.State == bucket.MonthFuture {
		return MonthView{Window: window, Empty: true}, nil
	}

	rings, err := e.Rings(ctx, window.Key)
	if err != nil {
		return MonthView{}, err
	}
	return MonthView{
		Window: window,
		Rings:  rings,
	}, nil
}
