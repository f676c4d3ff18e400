package biosource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/metric"

	log "github.com/sirupsen/logrus"
)

// DayValue is the total of one metric for one local day as reported by an
// external health data provider (steps count, sleep minutes).
type DayValue struct {
	Day   bucket.Key
	Value float64
}

// Source is the external biometric data provider.
type Source interface {
	Daily(ctx context.Context, m metric.Kind, days []bucket.Key) ([]DayValue, error)
}

// Provides reports whether m is ever read from an external source.
func Provides(m metric.Kind) bool {
	return m == metric.Steps || m == metric.Sleep
}

// Nop is used when no provider is available: totals are manual only.
type Nop struct{}

func (Nop) Daily(context.Context, metric.Kind, []bucket.Key) ([]DayValue, error) {
	return []DayValue{}, nil
}

// Memory serves values set in memory.
type Memory struct {
	mutex  sync.RWMutex
	values map[metric.Kind]map[bucket.Key]float64
	Err    error
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[metric.Kind]map[bucket.Key]float64),
	}
}

func (m *Memory) Set(kind metric.Kind, day bucket.Key, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.values[kind] == nil {
		m.values[kind] = make(map[bucket.Key]float64)
	}
	m.values[kind][day] = value
}

// Replace swaps all values at once. Kinds missing from values are dropped.
func (m *Memory) Replace(values map[metric.Kind]map[bucket.Key]float64) {
	if values == nil {
		values = make(map[metric.Kind]map[bucket.Key]float64)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values = values
}

func (m *Memory) Daily(_ context.Context, kind metric.Kind, days []bucket.Key) ([]DayValue, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	result := make([]DayValue, 0, len(days))
	for _, d := range days {
		if v, ok := m.values[kind][d]; ok {
			result = append(result, DayValue{Day: d, Value: v})
		}
	}
	return result, nil
}

type exportEntry struct {
	Metric metric.Kind `json:"metric"`
	Day    string      `json:"day"`
	Value  float64     `json:"value"`
}

// JSONFile reads a health data export: a JSON list of
// {"metric": "steps", "day": "2024-05-06", "value": 9120}.
// Reload refreshes the in-memory copy.
type JSONFile struct {
	path   string
	memory *Memory
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{
		path:   path,
		memory: NewMemory(),
	}
}

func (f *JSONFile) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read health export [%s]: %w", f.path, err)
	}

	var entries []exportEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("unmarshal health export [%s]: %w", f.path, err)
	}

	byMetric := make(map[metric.Kind]map[bucket.Key]float64)
	skipped := 0
	for _, e := range entries {
		day, err := bucket.ParseDay(e.Day)
		if err != nil || !Provides(e.Metric) || e.Value < 0 {
			skipped++
			continue
		}
		if byMetric[e.Metric] == nil {
			byMetric[e.Metric] = make(map[bucket.Key]float64)
		}
		byMetric[e.Metric][day] += e.Value
	}
	if skipped > 0 {
		log.Warnf("health export [%s]: skipped %d invalid entries", f.path, skipped)
	}

	f.memory.Replace(byMetric)

	kinds := make([]string, 0, len(byMetric))
	for kind := range byMetric {
		kinds = append(kinds, kind.String())
	}
	sort.Strings(kinds)
	log.Debugf("health export [%s] loaded: %v", f.path, kinds)
	return nil
}

func (f *JSONFile) Daily(ctx context.Context, m metric.Kind, days []bucket.Key) ([]DayValue, error) {
	return f.memory.Daily(ctx, m, days)
}
