package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/telemetry/metrics"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/aggregate"
	"github.com/2beens/fittracker/internal/tracker/biosource"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/counters"
	"github.com/2beens/fittracker/internal/tracker/events"
	"github.com/2beens/fittracker/internal/tracker/goals"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/progress"
	"github.com/2beens/fittracker/internal/tracker/recommend"
	"github.com/2beens/fittracker/internal/tracker/trackerr"
	"github.com/2beens/fittracker/internal/tracker/weight"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// WeightHistoryDays is the length of the weight history in a snapshot.
const WeightHistoryDays = 30

// flusher is implemented by stores that keep rejected writes in memory.
type flusher interface {
	Flush(ctx context.Context) error
	Pending() int
}

type Deps struct {
	Calendar bucket.Calendar
	Store    storage.Store
	// Source is optional, totals are manual only without it.
	Source  biosource.Source
	Metrics *metrics.Manager
	// Now defaults to time.Now.
	Now func() time.Time
}

// Tracker is the session state object. Writes are serialized and each one is
// followed by an explicit read model refresh. Reads are safe for concurrent use.
type Tracker struct {
	calendar  bucket.Calendar
	events    *events.Store
	counters  *counters.Store
	weights   *weight.Log
	goals     *goals.Registry
	agg       *aggregate.Aggregator
	evaluator *progress.Evaluator
	metrics   *metrics.Manager
	flusher   flusher
	now       func() time.Time

	writeMutex sync.Mutex

	snapshotMutex sync.RWMutex
	snapshot      Snapshot

	degraded      atomic.Bool
	sourceFailing atomic.Bool
}

func New(ctx context.Context, deps Deps) (*Tracker, error) {
	if deps.Store == nil {
		return nil, errors.New("tracker: store not set")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewTestManager()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	t := &Tracker{
		calendar: deps.Calendar,
		events:   events.NewStore(deps.Store, deps.Calendar),
		counters: counters.NewStore(deps.Store, deps.Calendar),
		weights:  weight.NewLog(deps.Store, deps.Calendar),
		goals:    goals.NewRegistry(deps.Store),
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
	t.goals.Now = deps.Now
	t.weights.Now = deps.Now
	if f, ok := deps.Store.(flusher); ok {
		t.flusher = f
	}

	t.agg = aggregate.New(deps.Calendar, t.events, t.counters, t.weights, deps.Source)
	t.agg.OnSourceError = func(m metric.Kind, _ error) {
		t.sourceFailing.Store(true)
		t.metrics.CounterBiosourceSyncs.WithLabelValues("unavailable").Inc()
	}
	t.evaluator = progress.NewEvaluator(t.agg, t.goals)

	if err := t.refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial refresh: %w", err)
	}
	return t, nil
}

func (t *Tracker) Calendar() bucket.Calendar {
	return t.calendar
}

// Degraded reports whether a write did not reach the backing store and has
// not been flushed since.
func (t *Tracker) Degraded() bool {
	return t.degraded.Load()
}

// afterWrite records the outcome of a mutation and refreshes the read model.
// Persistence failures keep the in-memory result, mark the session degraded
// and are still returned to the caller.
func (t *Tracker) afterWrite(ctx context.Context, op string, m metric.Kind, err error) error {
	if err != nil && !errors.Is(err, trackerr.ErrPersistence) {
		return err
	}

	t.metrics.CounterMutations.WithLabelValues(op, m.String()).Inc()
	if err != nil {
		log.Errorf("tracker %s [%s]: write not persisted: %s", op, m, err)
		t.metrics.CounterPersistenceFailures.Inc()
		t.setDegraded(true)
	}
	if t.flusher != nil {
		t.metrics.GaugePendingWrites.Set(float64(t.flusher.Pending()))
	}

	if refreshErr := t.refresh(ctx); refreshErr != nil {
		return multierr.Append(err, refreshErr)
	}
	return err
}

func (t *Tracker) setDegraded(degraded bool) {
	t.degraded.Store(degraded)
	if degraded {
		t.metrics.GaugeDegraded.Set(1)
	} else {
		t.metrics.GaugeDegraded.Set(0)
	}
}

func (t *Tracker) LogEvent(ctx context.Context, e events.Event) (_ events.Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.log_event")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("metric", e.Metric.String()))

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	created, err := t.events.Append(ctx, e)
	return created, t.afterWrite(ctx, "log_event", e.Metric, err)
}

func (t *Tracker) UpdateEvent(ctx context.Context, id string, patch events.Patch) (_ events.Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.update_event")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	updated, err := t.events.Update(ctx, id, patch)
	return updated, t.afterWrite(ctx, "update_event", updated.Metric, err)
}

func (t *Tracker) RemoveEvent(ctx context.Context, id string) (_ events.Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.remove_event")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	removed, err := t.events.Remove(ctx, id)
	return removed, t.afterWrite(ctx, "remove_event", removed.Metric, err)
}

// Events lists the events of metric m logged within bucket k.
func (t *Tracker) Events(ctx context.Context, m metric.Kind, k bucket.Key) ([]events.Event, error) {
	return t.events.QueryBucket(ctx, m, k)
}

// Increment adds one unit of denomination denom to today's counters of m.
func (t *Tracker) Increment(ctx context.Context, m metric.Kind, denom int) (_ counters.DayCounts, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.increment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	dc, err := t.counters.Increment(ctx, m, denom, t.now())
	return dc, t.afterWrite(ctx, "increment", m, err)
}

// Decrement removes one unit of denomination denom from today's counters of
// m, never going below zero.
func (t *Tracker) Decrement(ctx context.Context, m metric.Kind, denom int) (_ counters.DayCounts, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.decrement")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	dc, err := t.counters.Decrement(ctx, m, denom, t.now())
	return dc, t.afterWrite(ctx, "decrement", m, err)
}

// AddCup adds a custom water cup size and returns all available sizes.
func (t *Tracker) AddCup(ctx context.Context, ml int) (_ []int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.add_cup")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("ml", ml))

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	sizes, err := t.counters.AddDenomination(ctx, metric.Water, ml)
	return sizes, t.afterWrite(ctx, "add_cup", metric.Water, err)
}

func (t *Tracker) RemoveCup(ctx context.Context, ml int) (_ []int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.remove_cup")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("ml", ml))

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	sizes, err := t.counters.RemoveDenomination(ctx, metric.Water, ml)
	return sizes, t.afterWrite(ctx, "remove_cup", metric.Water, err)
}

func (t *Tracker) Goal(ctx context.Context, k goals.Key) (goals.Goal, error) {
	return t.goals.Get(ctx, k)
}

func (t *Tracker) SetGoal(ctx context.Context, k goals.Key, target float64) (_ goals.Goal, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.set_goal")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	g, err := t.goals.Set(ctx, k, target)
	return g, t.afterWrite(ctx, "set_goal", k.Metric, err)
}

// SetGoals sets several goals at once, e.g. from the onboarding form. Nothing
// is stored when any target is out of bounds.
func (t *Tracker) SetGoals(ctx context.Context, targets map[goals.Key]float64) (_ []goals.Goal, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.set_goals")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	set, err := t.goals.SetMany(ctx, targets)
	for _, g := range set {
		t.metrics.CounterMutations.WithLabelValues("set_goal", g.Key.Metric.String()).Inc()
	}
	if err != nil && !errors.Is(err, trackerr.ErrPersistence) {
		return nil, err
	}
	if err != nil {
		t.metrics.CounterPersistenceFailures.Inc()
		t.setDegraded(true)
	}
	if refreshErr := t.refresh(ctx); refreshErr != nil {
		return set, multierr.Append(err, refreshErr)
	}
	return set, err
}

// ApplyRecommendation computes the recommended goal of m (water or calorie)
// from profile p and stores it. Calorie recommendations use goalType.
func (t *Tracker) ApplyRecommendation(
	ctx context.Context,
	m metric.Kind,
	p recommend.Profile,
	goalType recommend.GoalType,
) (_ goals.Goal, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.apply_recommendation")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("metric", m.String()))

	var target int
	switch m {
	case metric.Water:
		target, err = recommend.Water(p)
	case metric.Calorie:
		var est recommend.Estimate
		est, err = recommend.Calories(p, goalType)
		target = est.Target
	default:
		return goals.Goal{}, fmt.Errorf("%w: no recommendation for %s", trackerr.ErrInvalidInput, m)
	}
	if err != nil {
		return goals.Goal{}, err
	}

	log.Debugf("tracker: recommended %s goal: %d %s", m, target, m.GoalUnit())
	return t.SetGoal(ctx, goals.MetricKey(m), float64(target))
}

// RecordWeight upserts the weight sample of the day of at.
func (t *Tracker) RecordWeight(ctx context.Context, at time.Time, kg float64) (_ weight.Sample, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.record_weight")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if at.IsZero() {
		at = t.now()
	}
	sample, _, err := t.weights.Record(ctx, at, kg)
	return sample, t.afterWrite(ctx, "record_weight", metric.Weight, err)
}

func (t *Tracker) DeleteWeight(ctx context.Context, id string) (_ weight.Sample, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.delete_weight")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	sample, err := t.weights.Delete(ctx, id)
	return sample, t.afterWrite(ctx, "delete_weight", metric.Weight, err)
}

// AckOnboarding clears the onboarding flag of goal k.
func (t *Tracker) AckOnboarding(ctx context.Context, k goals.Key) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.ack_onboarding")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	err = t.goals.AckOnboarding(ctx, k)
	return t.afterWrite(ctx, "ack_onboarding", k.Metric, err)
}

// Progress of goal k within bucket b.
func (t *Tracker) Progress(ctx context.Context, k goals.Key, b bucket.Key) (progress.Progress, error) {
	return t.evaluator.Progress(ctx, k, b)
}

// Series returns the progress of goal k over n buckets starting at from.
func (t *Tracker) Series(ctx context.Context, k goals.Key, from bucket.Key, n int) ([]progress.Progress, error) {
	return t.evaluator.Series(ctx, k, from, n)
}

// Month returns the workout rings of the month at offset from the current
// month. Future months come back empty.
func (t *Tracker) Month(ctx context.Context, offset int) (progress.MonthView, error) {
	return t.evaluator.Month(ctx, t.calendar, t.now(), offset)
}

// Flush retries writes the backing store rejected. The degraded flag is
// cleared once nothing is pending.
func (t *Tracker) Flush(ctx context.Context) (err error) {
	if t.flusher == nil {
		return nil
	}

	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.flush")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	err = t.flusher.Flush(ctx)
	pending := t.flusher.Pending()
	t.metrics.GaugePendingWrites.Set(float64(pending))
	span.SetAttributes(attribute.Int("pending", pending))

	if err != nil {
		t.metrics.CounterFlushes.WithLabelValues("error").Inc()
		return err
	}
	t.metrics.CounterFlushes.WithLabelValues("ok").Inc()

	if pending == 0 && t.degraded.Load() {
		log.Infoln("tracker: pending writes flushed, store healthy again")
		t.setDegraded(false)
		t.snapshotMutex.Lock()
		t.snapshot.Degraded = false
		t.snapshotMutex.Unlock()
	}
	return nil
}
