package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/biosource"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/counters"
	"github.com/2beens/fittracker/internal/tracker/events"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/weight"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type eventsQuerier interface {
	Query(ctx context.Context, m metric.Kind, start, end time.Time) ([]events.Event, error)
}

type countsReader interface {
	Counts(ctx context.Context, m metric.Kind, day bucket.Key) (counters.DayCounts, error)
}

type weightReader interface {
	Range(ctx context.Context, days []bucket.Key) ([]weight.Sample, error)
}

// Point is the total of one bucket.
type Point struct {
	Key   bucket.Key
	Total float64
}

// Aggregator computes bucket totals on demand from the stores. It keeps no
// state between calls.
type Aggregator struct {
	calendar bucket.Calendar
	events   eventsQuerier
	counts   countsReader
	weights  weightReader
	source   biosource.Source

	// OnSourceError is called when the external source fails; totals then
	// contain manually logged data only.
	OnSourceError func(m metric.Kind, err error)
}

func New(
	calendar bucket.Calendar,
	events eventsQuerier,
	counts countsReader,
	weights weightReader,
	source biosource.Source,
) *Aggregator {
	if source == nil {
		source = biosource.Nop{}
	}
	return &Aggregator{
		calendar: calendar,
		events:   events,
		counts:   counts,
		weights:  weights,
		source:   source,
	}
}

func (a *Aggregator) Calendar() bucket.Calendar {
	return a.calendar
}

// Total of metric m within bucket k. Additive metrics sum logged events
// (amount x quantity), counters (denomination x count) and external source
// values. Weight takes the latest sample within the bucket.
func (a *Aggregator) Total(ctx context.Context, m metric.Kind, k bucket.Key) (float64, error) {
	if !m.Additive() {
		return a.weightLevel(ctx, k)
	}

	evs, err := a.events.Query(ctx, m, a.calendar.Start(k), a.calendar.End(k))
	if err != nil {
		return 0, fmt.Errorf("query %s events [%s]: %w", m, k, err)
	}
	total := 0.0
	for _, e := range evs {
		total += e.Effective()
	}

	days := k.Days()
	if _, counted := counters.DefaultDenominations[m]; counted {
		for _, day := range days {
			dc, err := a.counts.Counts(ctx, m, day)
			if err != nil {
				return 0, fmt.Errorf("%s counts [%s]: %w", m, day, err)
			}
			total += dc.Total()
		}
	}

	if biosource.Provides(m) {
		values, err := a.source.Daily(ctx, m, days)
		if err != nil {
			log.Warnf("external %s data unavailable for [%s], using manual entries only: %s", m, k, err)
			if a.OnSourceError != nil {
				a.OnSourceError(m, err)
			}
			return total, nil
		}
		for _, v := range values {
			total += v.Value
		}
	}

	return total, nil
}

func (a *Aggregator) weightLevel(ctx context.Context, k bucket.Key) (float64, error) {
	samples, err := a.weights.Range(ctx, k.Days())
	if err != nil {
		return 0, fmt.Errorf("weight samples [%s]: %w", k, err)
	}
	if len(samples) == 0 {
		return 0, nil
	}
	return samples[len(samples)-1].KG, nil
}

// Totals returns a total for every key; buckets without data are 0.
func (a *Aggregator) Totals(ctx context.Context, m metric.Kind, keys []bucket.Key) (_ map[bucket.Key]float64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.aggregate.totals")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("metric", m.String()),
		attribute.Int("buckets", len(keys)),
	)

	totals := make(map[bucket.Key]float64, len(keys))
	for _, k := range keys {
		total, err := a.Total(ctx, m, k)
		if err != nil {
			return nil, err
		}
		totals[k] = total
	}
	return totals, nil
}

// Series returns exactly n consecutive buckets starting at from, in
// chronological order, zero filled.
func (a *Aggregator) Series(ctx context.Context, m metric.Kind, from bucket.Key, n int) ([]Point, error) {
	keys := from.Run(n)
	totals, err := a.Totals(ctx, m, keys)
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(keys))
	for i, k := range keys {
		points[i] = Point{Key: k, Total: totals[k]}
	}
	return points, nil
}

// LastDays is the daily series of the n days ending today.
func (a *Aggregator) LastDays(ctx context.Context, m metric.Kind, now time.Time, n int) ([]Point, error) {
	if n <= 0 {
		return []Point{}, nil
	}
	return a.Series(ctx, m, a.calendar.Day(now).Add(-(n - 1)), n)
}

// WeekBars returns the daily totals of the week of t, indexed by
// Calendar.WeekdayIndex (Monday = 0 for Monday-start weeks).
func (a *Aggregator) WeekBars(ctx context.Context, m metric.Kind, t time.Time) ([7]float64, error) {
	var bars [7]float64
	points, err := a.Series(ctx, m, a.calendar.Week(t).Days()[0], 7)
	if err != nil {
		return bars, err
	}
	for i, p := range points {
		bars[i] = p.Total
	}
	return bars, nil
}

// TotalsByAttribute sums the events of bucket k grouped by an attribute,
// e.g. workout minutes per workout type. Every value in fill gets an entry.
func (a *Aggregator) TotalsByAttribute(
	ctx context.Context,
	m metric.Kind,
	k bucket.Key,
	attr string,
	fill []string,
) (map[string]float64, error) {
	evs, err := a.events.Query(ctx, m, a.calendar.Start(k), a.calendar.End(k))
	if err != nil {
		return nil, fmt.Errorf("query %s events [%s]: %w", m, k, err)
	}

	totals := make(map[string]float64, len(fill))
	for _, v := range fill {
		totals[v] = 0
	}
	for _, e := range evs {
		totals[e.Attr(attr)] += e.Effective()
	}
	return totals, nil
}

// AverageWithData averages the points that have data, 0 when none has.
func AverageWithData(points []Point) float64 {
	sum, n := 0.0, 0
	for _, p := range points {
		if p.Total > 0 {
			sum += p.Total
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
