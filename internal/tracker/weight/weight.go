package weight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

const (
	keyPrefix = "weight"

	MaxKG = 500
)

// Sample is the body weight of one calendar day.
type Sample struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"`
	KG        float64   `json:"kg"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Log holds at most one sample per day; recording on an occupied day updates it.
type Log struct {
	kv       storage.Store
	calendar bucket.Calendar
	Now      func() time.Time
	NewID    func() string
}

func NewLog(kv storage.Store, calendar bucket.Calendar) *Log {
	return &Log{
		kv:       kv,
		calendar: calendar,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func dayKey(day bucket.Key) string {
	return storage.Key(keyPrefix, day.String())
}

func indexKey(id string) string {
	return storage.Key(keyPrefix, "id", id)
}

// Record upserts the sample of the day of t. created is false when an
// existing sample was updated.
func (l *Log) Record(ctx context.Context, t time.Time, kg float64) (_ Sample, created bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.weight.record")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if t.IsZero() {
		return Sample{}, false, fmt.Errorf("%w: timestamp not set", trackerr.ErrInvalidInput)
	}
	if kg <= 0 || kg > MaxKG || math.IsNaN(kg) {
		return Sample{}, false, fmt.Errorf("%w: weight [%v] kg", trackerr.ErrInvalidInput, kg)
	}

	day := l.calendar.Day(t)
	span.SetAttributes(attribute.String("day", day.String()))

	sample, err := l.Get(ctx, day)
	switch {
	case err == nil:
		sample.KG = kg
		sample.UpdatedAt = l.Now()
	case errors.Is(err, trackerr.ErrNotFound):
		created = true
		sample = Sample{
			ID:        l.NewID(),
			Day:       day.String(),
			KG:        kg,
			UpdatedAt: l.Now(),
		}
	default:
		return Sample{}, false, err
	}

	raw, err := json.Marshal(sample)
	if err != nil {
		return Sample{}, false, fmt.Errorf("marshal weight sample: %w", err)
	}

	err = l.kv.Save(ctx, dayKey(day), raw)
	if created {
		err = multierr.Append(err, l.kv.Save(ctx, indexKey(sample.ID), []byte(sample.Day)))
	}
	if err != nil {
		return sample, created, fmt.Errorf("save weight sample [%s]: %w", day, err)
	}
	return sample, created, nil
}

func (l *Log) Get(ctx context.Context, day bucket.Key) (Sample, error) {
	raw, err := l.kv.Load(ctx, dayKey(day))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return Sample{}, fmt.Errorf("weight sample [%s]: %w", day, trackerr.ErrNotFound)
		}
		return Sample{}, fmt.Errorf("load weight sample [%s]: %w", day, err)
	}

	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return Sample{}, fmt.Errorf("unmarshal weight sample [%s]: %w", day, err)
	}
	return sample, nil
}

// Delete removes the sample with the given id.
func (l *Log) Delete(ctx context.Context, id string) (_ Sample, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.weight.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	rawDay, err := l.kv.Load(ctx, indexKey(id))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return Sample{}, fmt.Errorf("weight sample [%s]: %w", id, trackerr.ErrNotFound)
		}
		return Sample{}, fmt.Errorf("load weight index [%s]: %w", id, err)
	}
	day, err := bucket.ParseDay(string(rawDay))
	if err != nil {
		return Sample{}, err
	}

	sample, err := l.Get(ctx, day)
	if err != nil {
		return Sample{}, err
	}

	err = multierr.Combine(
		ignoreNotFound(l.kv.Delete(ctx, dayKey(day))),
		ignoreNotFound(l.kv.Delete(ctx, indexKey(id))),
	)
	if err != nil {
		return sample, fmt.Errorf("delete weight sample [%s]: %w", id, err)
	}
	return sample, nil
}

// Range returns the samples present on the given days, in the order of days.
func (l *Log) Range(ctx context.Context, days []bucket.Key) ([]Sample, error) {
	samples := make([]Sample, 0)
	for _, day := range days {
		sample, err := l.Get(ctx, day)
		if err != nil {
			if errors.Is(err, trackerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// Recent returns the samples of the last n days (today included), oldest first.
func (l *Log) Recent(ctx context.Context, now time.Time, n int) ([]Sample, error) {
	return l.Range(ctx, l.calendar.LastDays(now, n))
}

func ignoreNotFound(err error) error {
	if errors.Is(err, trackerr.ErrNotFound) {
		return nil
	}
	return err
}
