package counters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"go.opentelemetry.io/otel/attribute"
)

const (
	keyPrefix           = "counters"
	denominationsSuffix = "denominations"

	MinCustomDenomination = 50
	MaxCustomDenomination = 2000
)

// DefaultDenominations are the fixed unit sizes (e.g. water cups in mL) of
// metrics tracked by counting.
var DefaultDenominations = map[metric.Kind][]int{
	metric.Water: {200, 250, 300, 500},
}

// DayCounts maps a denomination to its count for one day.
// A denomination decremented to zero stays present with count 0.
type DayCounts map[int]int

func (dc DayCounts) Total() float64 {
	total := 0
	for denom, count := range dc {
		total += denom * count
	}
	return float64(total)
}

// Store keeps per day denomination counters.
type Store struct {
	kv       storage.Store
	calendar bucket.Calendar
}

func NewStore(kv storage.Store, calendar bucket.Calendar) *Store {
	return &Store{
		kv:       kv,
		calendar: calendar,
	}
}

func countsKey(m metric.Kind, day bucket.Key) string {
	return storage.Key(keyPrefix, m.String(), day.String())
}

func denominationsKey(m metric.Kind) string {
	return storage.Key(keyPrefix, m.String(), denominationsSuffix)
}

// Increment adds one unit of denom to the day of t.
func (s *Store) Increment(ctx context.Context, m metric.Kind, denom int, t time.Time) (DayCounts, error) {
	return s.change(ctx, "service.counters.increment", m, denom, s.calendar.Day(t), false, func(dc DayCounts) bool {
		dc[denom]++
		return true
	})
}

// Decrement removes one unit of denom from the day of t, never going below zero.
// A denomination already counted on that day can be decremented even after it
// was removed from the set.
func (s *Store) Decrement(ctx context.Context, m metric.Kind, denom int, t time.Time) (DayCounts, error) {
	return s.change(ctx, "service.counters.decrement", m, denom, s.calendar.Day(t), true, func(dc DayCounts) bool {
		count, ok := dc[denom]
		if !ok {
			return false
		}
		if count > 0 {
			dc[denom] = count - 1
		}
		return true
	})
}

// SetCount overrides the count of denom for the day.
func (s *Store) SetCount(ctx context.Context, m metric.Kind, denom int, day bucket.Key, count int) (DayCounts, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count [%d]", trackerr.ErrInvalidInput, count)
	}
	return s.change(ctx, "service.counters.set", m, denom, day, true, func(dc DayCounts) bool {
		dc[denom] = count
		return true
	})
}

func (s *Store) change(
	ctx context.Context,
	spanName string,
	m metric.Kind,
	denom int,
	day bucket.Key,
	allowLogged bool,
	mutate func(dc DayCounts) bool,
) (_ DayCounts, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, spanName)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("metric", m.String()),
		attribute.Int("denomination", denom),
		attribute.String("day", day.String()),
	)

	dc, err := s.Counts(ctx, m, day)
	if err != nil {
		return nil, err
	}
	if _, logged := dc[denom]; !allowLogged || !logged {
		denominations, err := s.Denominations(ctx, m)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(denominations, denom) {
			return nil, fmt.Errorf("%w: unknown %s denomination [%d]", trackerr.ErrInvalidInput, m, denom)
		}
	}
	if !mutate(dc) {
		return dc, nil
	}

	raw, err := json.Marshal(dc)
	if err != nil {
		return nil, fmt.Errorf("marshal counts [%s %s]: %w", m, day, err)
	}
	if err := s.kv.Save(ctx, countsKey(m, day), raw); err != nil {
		return dc, fmt.Errorf("save counts [%s %s]: %w", m, day, err)
	}
	return dc, nil
}

// Counts returns the counters of the day; an empty map when nothing was logged.
func (s *Store) Counts(ctx context.Context, m metric.Kind, day bucket.Key) (DayCounts, error) {
	dc := make(DayCounts)
	raw, err := s.kv.Load(ctx, countsKey(m, day))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return dc, nil
		}
		return nil, fmt.Errorf("load counts [%s %s]: %w", m, day, err)
	}
	if err := json.Unmarshal(raw, &dc); err != nil {
		return nil, fmt.Errorf("unmarshal counts [%s %s]: %w", m, day, err)
	}
	return dc, nil
}

// Denominations returns the default and custom denominations of m, ascending.
func (s *Store) Denominations(ctx context.Context, m metric.Kind) ([]int, error) {
	custom, err := s.customDenominations(ctx, m)
	if err != nil {
		return nil, err
	}

	all := append(slices.Clone(DefaultDenominations[m]), custom...)
	sort.Ints(all)
	return slices.Compact(all), nil
}

// AddDenomination registers a custom denomination (e.g. a 330 mL bottle).
func (s *Store) AddDenomination(ctx context.Context, m metric.Kind, size int) ([]int, error) {
	if size < MinCustomDenomination || size > MaxCustomDenomination {
		return nil, fmt.Errorf(
			"%w: denomination [%d] not in [%d, %d]",
			trackerr.ErrInvalidInput, size, MinCustomDenomination, MaxCustomDenomination,
		)
	}
	if _, ok := DefaultDenominations[m]; !ok {
		return nil, fmt.Errorf("%w: %s is not tracked by counting", trackerr.ErrInvalidInput, m)
	}

	custom, err := s.customDenominations(ctx, m)
	if err != nil {
		return nil, err
	}
	if slices.Contains(custom, size) || slices.Contains(DefaultDenominations[m], size) {
		return s.Denominations(ctx, m)
	}

	return s.saveAndList(ctx, m, append(custom, size))
}

// RemoveDenomination removes a custom denomination. Logged counts are kept.
func (s *Store) RemoveDenomination(ctx context.Context, m metric.Kind, size int) ([]int, error) {
	if slices.Contains(DefaultDenominations[m], size) {
		return nil, fmt.Errorf("%w: default denomination [%d] cannot be removed", trackerr.ErrInvalidInput, size)
	}

	custom, err := s.customDenominations(ctx, m)
	if err != nil {
		return nil, err
	}
	i := slices.Index(custom, size)
	if i < 0 {
		return nil, fmt.Errorf("denomination [%d]: %w", size, trackerr.ErrNotFound)
	}

	return s.saveAndList(ctx, m, slices.Delete(custom, i, i+1))
}

// saveAndList stores the custom denominations and lists all of them. A write
// the backend rejected is still visible in the returned list.
func (s *Store) saveAndList(ctx context.Context, m metric.Kind, custom []int) ([]int, error) {
	saveErr := s.saveCustom(ctx, m, custom)
	if saveErr != nil && !errors.Is(saveErr, trackerr.ErrPersistence) {
		return nil, saveErr
	}
	all, err := s.Denominations(ctx, m)
	if err != nil {
		return nil, err
	}
	return all, saveErr
}

func (s *Store) customDenominations(ctx context.Context, m metric.Kind) ([]int, error) {
	raw, err := s.kv.Load(ctx, denominationsKey(m))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("load denominations [%s]: %w", m, err)
	}

	var custom []int
	if err := json.Unmarshal(raw, &custom); err != nil {
		return nil, fmt.Errorf("unmarshal denominations [%s]: %w", m, err)
	}
	return custom, nil
}

func (s *Store) saveCustom(ctx context.Context, m metric.Kind, custom []int) error {
	sort.Ints(custom)
	raw, err := json.Marshal(custom)
	if err != nil {
		return fmt.Errorf("marshal denominations [%s]: %w", m, err)
	}
	if err := s.kv.Save(ctx, denominationsKey(m), raw); err != nil {
		return fmt.Errorf("save denominations [%s]: %w", m, err)
	}
	return nil
}
