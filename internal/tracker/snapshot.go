package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/aggregate"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/counters"
	"github.com/2beens/fittracker/internal/tracker/goals"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/progress"
	"github.com/2beens/fittracker/internal/tracker/weight"

	log "github.com/sirupsen/logrus"
)

// Snapshot is the read model of the current day. It is rebuilt after every
// write and must not be modified by callers.
type Snapshot struct {
	Day bucket.Key
	// Today holds the progress of every daily goal.
	Today map[metric.Kind]progress.Progress

	WaterWeek   [7]float64
	WaterCounts counters.DayCounts
	Cups        []int

	StepsWeek       []aggregate.Point
	SleepWeek       []aggregate.Point
	AvgSleepMinutes float64

	// Rings of the current month, one per workout type.
	Rings []progress.Ring

	Weights []weight.Sample

	Onboarding []goals.Key

	Degraded bool
	// SourceUnavailable is set when the external biometric source failed
	// and steps and sleep contain manual entries only.
	SourceUnavailable bool
	RefreshedAt       time.Time
}

// Snapshot returns the last computed read model.
func (t *Tracker) Snapshot() Snapshot {
	t.snapshotMutex.RLock()
	defer t.snapshotMutex.RUnlock()
	return t.snapshot
}

// Refresh recomputes the read model from the stores, e.g. after the external
// biometric source was reloaded.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	return t.refresh(ctx)
}

// RollOver rebuilds the read model when the calendar day moved past the day
// of the last snapshot. It reports whether a refresh happened.
func (t *Tracker) RollOver(ctx context.Context) (bool, error) {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	today := t.calendar.Day(t.now())
	if t.Snapshot().Day == today {
		return false, nil
	}
	log.Debugf("tracker: day changed to %s, refreshing", today)
	return true, t.refresh(ctx)
}

func (t *Tracker) refresh(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.tracker.refresh")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	start := time.Now()
	defer func() {
		t.metrics.HistRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	t.sourceFailing.Store(false)
	snap, err := t.buildSnapshot(ctx, t.now())
	if err != nil {
		return err
	}
	snap.Degraded = t.degraded.Load()
	snap.SourceUnavailable = t.sourceFailing.Load()

	t.snapshotMutex.Lock()
	t.snapshot = snap
	t.snapshotMutex.Unlock()
	return nil
}

func (t *Tracker) buildSnapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	day := t.calendar.Day(now)
	snap := Snapshot{
		Day:         day,
		Today:       make(map[metric.Kind]progress.Progress, len(metric.All)),
		RefreshedAt: now,
	}

	for _, m := range metric.All {
		if m.Period() != metric.PeriodDay {
			continue
		}
		p, err := t.evaluator.Progress(ctx, goals.MetricKey(m), day)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%s progress: %w", m, err)
		}
		snap.Today[m] = p
	}

	var err error
	if snap.WaterWeek, err = t.agg.WeekBars(ctx, metric.Water, now); err != nil {
		return Snapshot{}, fmt.Errorf("water week: %w", err)
	}
	if snap.WaterCounts, err = t.counters.Counts(ctx, metric.Water, day); err != nil {
		return Snapshot{}, err
	}
	if snap.Cups, err = t.counters.Denominations(ctx, metric.Water); err != nil {
		return Snapshot{}, err
	}

	if snap.StepsWeek, err = t.agg.LastDays(ctx, metric.Steps, now, 7); err != nil {
		return Snapshot{}, fmt.Errorf("steps week: %w", err)
	}
	if snap.SleepWeek, err = t.agg.LastDays(ctx, metric.Sleep, now, 7); err != nil {
		return Snapshot{}, fmt.Errorf("sleep week: %w", err)
	}
	snap.AvgSleepMinutes = aggregate.AverageWithData(snap.SleepWeek)

	if snap.Rings, err = t.evaluator.Rings(ctx, t.calendar.Month(now)); err != nil {
		return Snapshot{}, fmt.Errorf("workout rings: %w", err)
	}
	if snap.Weights, err = t.weights.Recent(ctx, now, WeightHistoryDays); err != nil {
		return Snapshot{}, fmt.Errorf("weight history: %w", err)
	}
	if snap.Onboarding, err = t.goals.PendingOnboarding(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("onboarding: %w", err)
	}

	return snap, nil
}
