package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

const keyPrefix = "events"

// location of an event, stored under events/id/<id>
type location struct {
	Metric metric.Kind `json:"metric"`
	Day    string      `json:"day"`
}

// Store persists events as one JSON list per metric and local day,
// plus an id index pointing at that list.
type Store struct {
	kv       storage.Store
	calendar bucket.Calendar
	NewID    func() string
}

func NewStore(kv storage.Store, calendar bucket.Calendar) *Store {
	return &Store{
		kv:       kv,
		calendar: calendar,
		NewID:    uuid.NewString,
	}
}

func dayKey(m metric.Kind, day bucket.Key) string {
	return storage.Key(keyPrefix, m.String(), day.String())
}

func indexKey(id string) string {
	return storage.Key(keyPrefix, "id", id)
}

// Append stores a new event and returns it with its ID set.
// Backdated timestamps are allowed. An unset (zero) quantity becomes 1.
func (s *Store) Append(ctx context.Context, e Event) (_ Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.events.append")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if e.Quantity == 0 {
		e.Quantity = 1
	}
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	if e.ID == "" {
		e.ID = s.NewID()
	}
	if e.Unit == "" {
		e.Unit = e.Metric.Unit()
	}
	span.SetAttributes(
		attribute.String("metric", e.Metric.String()),
		attribute.String("id", e.ID),
	)

	if _, err := s.locate(ctx, e.ID); err == nil {
		return Event{}, fmt.Errorf("%w: duplicate event id [%s]", trackerr.ErrInvalidInput, e.ID)
	} else if !errors.Is(err, trackerr.ErrNotFound) {
		return Event{}, err
	}

	day := s.calendar.Day(e.Timestamp)
	list, err := s.loadDay(ctx, e.Metric, day)
	if err != nil {
		return Event{}, err
	}
	list = append(list, e)

	err = multierr.Combine(
		s.saveDay(ctx, e.Metric, day, list),
		s.saveLocation(ctx, e.ID, location{Metric: e.Metric, Day: day.String()}),
	)
	return e, err
}

func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	loc, err := s.locate(ctx, id)
	if err != nil {
		return Event{}, err
	}
	day, err := bucket.ParseDay(loc.Day)
	if err != nil {
		return Event{}, err
	}

	list, err := s.loadDay(ctx, loc.Metric, day)
	if err != nil {
		return Event{}, err
	}
	for _, e := range list {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{}, fmt.Errorf("event [%s]: %w", id, trackerr.ErrNotFound)
}

// Update applies the patch to amount, quantity and attributes.
// Metric and timestamp are immutable.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (_ Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.events.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	return s.modify(ctx, id, func(list []Event, i int) ([]Event, Event, error) {
		updated := list[i].apply(patch)
		if err := updated.validate(); err != nil {
			return nil, Event{}, err
		}
		list[i] = updated
		return list, updated, nil
	})
}

// Remove deletes the event and returns it. Removing an unknown (or already
// removed) event returns ErrNotFound.
func (s *Store) Remove(ctx context.Context, id string) (_ Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.events.remove")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("id", id))

	removed, err := s.modify(ctx, id, func(list []Event, i int) ([]Event, Event, error) {
		e := list[i]
		return append(list[:i], list[i+1:]...), e, nil
	})
	if err != nil && !errors.Is(err, trackerr.ErrPersistence) {
		return Event{}, err
	}

	if delErr := s.kv.Delete(ctx, indexKey(id)); delErr != nil && !errors.Is(delErr, trackerr.ErrNotFound) {
		err = multierr.Append(err, fmt.Errorf("delete event index [%s]: %w", id, delErr))
	}
	return removed, err
}

func (s *Store) modify(
	ctx context.Context,
	id string,
	change func(list []Event, i int) ([]Event, Event, error),
) (Event, error) {
	loc, err := s.locate(ctx, id)
	if err != nil {
		return Event{}, err
	}
	day, err := bucket.ParseDay(loc.Day)
	if err != nil {
		return Event{}, err
	}

	list, err := s.loadDay(ctx, loc.Metric, day)
	if err != nil {
		return Event{}, err
	}

	for i := range list {
		if list[i].ID != id {
			continue
		}
		newList, e, err := change(list, i)
		if err != nil {
			return Event{}, err
		}
		return e, s.saveDay(ctx, loc.Metric, day, newList)
	}

	return Event{}, fmt.Errorf("event [%s]: %w", id, trackerr.ErrNotFound)
}

// Query returns the events of metric m with timestamps in [start, end),
// sorted by timestamp (ties broken by ID).
func (s *Store) Query(ctx context.Context, m metric.Kind, start, end time.Time) (_ []Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.events.query")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("metric", m.String()),
		attribute.String("start", start.String()),
		attribute.String("end", end.String()),
	)

	result := make([]Event, 0)
	if !end.After(start) {
		return result, nil
	}

	// lists are keyed by the local day at write time; a neighbouring day on
	// each side keeps events reachable after the location changed
	first := s.calendar.Day(start).Prev()
	last := s.calendar.Day(end.Add(-time.Nanosecond)).Next()
	for day := first; !day.After(last); day = day.Next() {
		list, err := s.loadDay(ctx, m, day)
		if err != nil {
			return nil, err
		}
		for _, e := range list {
			if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
				result = append(result, e)
			}
		}
	}

	sortEvents(result)
	return result, nil
}

// QueryBucket returns the events of metric m within the bucket.
func (s *Store) QueryBucket(ctx context.Context, m metric.Kind, k bucket.Key) ([]Event, error) {
	return s.Query(ctx, m, s.calendar.Start(k), s.calendar.End(k))
}

func (s *Store) loadDay(ctx context.Context, m metric.Kind, day bucket.Key) ([]Event, error) {
	raw, err := s.kv.Load(ctx, dayKey(m, day))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load events [%s %s]: %w", m, day, err)
	}

	var list []Event
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal events [%s %s]: %w", m, day, err)
	}
	return list, nil
}

func (s *Store) saveDay(ctx context.Context, m metric.Kind, day bucket.Key, list []Event) error {
	if len(list) == 0 {
		if err := s.kv.Delete(ctx, dayKey(m, day)); err != nil && !errors.Is(err, trackerr.ErrNotFound) {
			return fmt.Errorf("delete events [%s %s]: %w", m, day, err)
		}
		return nil
	}

	sortEvents(list)
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal events [%s %s]: %w", m, day, err)
	}
	if err := s.kv.Save(ctx, dayKey(m, day), raw); err != nil {
		return fmt.Errorf("save events [%s %s]: %w", m, day, err)
	}
	return nil
}

func (s *Store) locate(ctx context.Context, id string) (location, error) {
	raw, err := s.kv.Load(ctx, indexKey(id))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return location{}, fmt.Errorf("event [%s]: %w", id, trackerr.ErrNotFound)
		}
		return location{}, fmt.Errorf("load event index [%s]: %w", id, err)
	}

	var loc location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return location{}, fmt.Errorf("unmarshal event index [%s]: %w", id, err)
	}
	return loc, nil
}

func (s *Store) saveLocation(ctx context.Context, id string, loc location) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal event index [%s]: %w", id, err)
	}
	if err := s.kv.Save(ctx, indexKey(id), raw); err != nil {
		return fmt.Errorf("save event index [%s]: %w", id, err)
	}
	return nil
}

func sortEvents(list []Event) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID < list[j].ID
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}
