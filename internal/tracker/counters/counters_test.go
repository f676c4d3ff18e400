package counters_test

import (
	"context"
	"testing"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/internal/tracker/counters"
	"github.com/2beens/fittracker/internal/tracker/metric"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_IncrementDecrement(t *testing.T) {
	ctx := context.Background()
	cal := bucket.NewCalendar(time.UTC)
	store := counters.NewStore(storage.NewMemory(), cal)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	// 3 x 250 + 1 x 500 = 1250
	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx, metric.Water, 250, now)
		require.NoError(t, err)
	}
	dc, err := store.Increment(ctx, metric.Water, 500, now)
	require.NoError(t, err)
	assert.Equal(t, 1250.0, dc.Total())

	// decrement below zero clamps and keeps the entry
	_, err = store.Decrement(ctx, metric.Water, 500, now)
	require.NoError(t, err)
	dc, err = store.Decrement(ctx, metric.Water, 500, now)
	require.NoError(t, err)
	count, present := dc[500]
	assert.True(t, present)
	assert.Equal(t, 0, count)
	assert.Equal(t, 750.0, dc.Total())

	// decrement of a never logged denomination is a no-op
	dc, err = store.Decrement(ctx, metric.Water, 200, now)
	require.NoError(t, err)
	_, present = dc[200]
	assert.False(t, present)

	stored, err := store.Counts(ctx, metric.Water, cal.Day(now))
	require.NoError(t, err)
	assert.Equal(t, counters.DayCounts{250: 3, 500: 0}, stored)

	// next day is empty
	next, err := store.Counts(ctx, metric.Water, cal.Day(now).Next())
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, 0.0, next.Total())
}

func TestStore_UnknownDenomination(t *testing.T) {
	ctx := context.Background()
	store := counters.NewStore(storage.NewMemory(), bucket.NewCalendar(time.UTC))

	_, err := store.Increment(ctx, metric.Water, 333, time.Now())
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)

	_, err = store.Increment(ctx, metric.Steps, 250, time.Now())
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)
}

func TestStore_SetCount(t *testing.T) {
	ctx := context.Background()
	cal := bucket.NewCalendar(time.UTC)
	store := counters.NewStore(storage.NewMemory(), cal)
	day, err := bucket.ParseDay("2024-05-06")
	require.NoError(t, err)

	dc, err := store.SetCount(ctx, metric.Water, 300, day, 4)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, dc.Total())

	dc, err = store.SetCount(ctx, metric.Water, 300, day, 0)
	require.NoError(t, err)
	assert.Equal(t, counters.DayCounts{300: 0}, dc)

	_, err = store.SetCount(ctx, metric.Water, 300, day, -1)
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)
}

func TestStore_CustomDenominations(t *testing.T) {
	ctx := context.Background()
	store := counters.NewStore(storage.NewMemory(), bucket.NewCalendar(time.UTC))

	denoms, err := store.Denominations(ctx, metric.Water)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 250, 300, 500}, denoms)

	denoms, err = store.AddDenomination(ctx, metric.Water, 330)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 250, 300, 330, 500}, denoms)

	// duplicate and default sizes are a no-op
	denoms, err = store.AddDenomination(ctx, metric.Water, 330)
	require.NoError(t, err)
	assert.Len(t, denoms, 5)
	denoms, err = store.AddDenomination(ctx, metric.Water, 250)
	require.NoError(t, err)
	assert.Len(t, denoms, 5)

	for _, size := range []int{49, 2001, 0, -250} {
		_, err = store.AddDenomination(ctx, metric.Water, size)
		assert.ErrorIs(t, err, trackerr.ErrInvalidInput, size)
	}
	_, err = store.AddDenomination(ctx, metric.Weight, 100)
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)

	// boundaries are accepted
	_, err = store.AddDenomination(ctx, metric.Water, counters.MinCustomDenomination)
	require.NoError(t, err)
	_, err = store.AddDenomination(ctx, metric.Water, counters.MaxCustomDenomination)
	require.NoError(t, err)

	_, err = store.Increment(ctx, metric.Water, 330, time.Now())
	require.NoError(t, err)

	denoms, err = store.RemoveDenomination(ctx, metric.Water, 330)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 200, 250, 300, 500, 2000}, denoms)

	_, err = store.RemoveDenomination(ctx, metric.Water, 330)
	assert.ErrorIs(t, err, trackerr.ErrNotFound)
	_, err = store.RemoveDenomination(ctx, metric.Water, 250)
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)
}

func TestStore_RemovedDenominationStillCorrectable(t *testing.T) {
	ctx := context.Background()
	cal := bucket.NewCalendar(time.UTC)
	store := counters.NewStore(storage.NewMemory(), cal)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	_, err := store.AddDenomination(ctx, metric.Water, 330)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = store.Increment(ctx, metric.Water, 330, now)
		require.NoError(t, err)
	}
	_, err = store.RemoveDenomination(ctx, metric.Water, 330)
	require.NoError(t, err)

	dc, err := store.Decrement(ctx, metric.Water, 330, now)
	require.NoError(t, err)
	assert.Equal(t, 330.0, dc.Total())

	dc, err = store.SetCount(ctx, metric.Water, 330, cal.Day(now), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dc.Total())

	// not logged on the other day, so the removed size is unknown there
	_, err = store.Decrement(ctx, metric.Water, 330, now.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)
	_, err = store.Increment(ctx, metric.Water, 330, now)
	assert.ErrorIs(t, err, trackerr.ErrInvalidInput)
}
