package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

var errBackendDown = errors.New("backend down")

func TestCached_Load_ReadThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()

	backend.EXPECT().Load(gomock.Any(), "goals/water").Return([]byte(`{"target":2500}`), nil).Times(1)

	v, err := cached.Load(ctx, "goals/water")
	require.NoError(t, err)
	assert.Equal(t, `{"target":2500}`, string(v))

	// second read is served from the cache
	v, err = cached.Load(ctx, "goals/water")
	require.NoError(t, err)
	assert.Equal(t, `{"target":2500}`, string(v))

	backend.EXPECT().Load(gomock.Any(), "goals/steps").Return(nil, storage.ErrNotFound)
	_, err = cached.Load(ctx, "goals/steps")
	assert.ErrorIs(t, err, trackerr.ErrNotFound)
}

func TestCached_Save_BackendFailureKeepsPendingValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()

	backend.EXPECT().Save(gomock.Any(), "counters/water/2024-05-06", []byte("v1")).Return(errBackendDown)

	err := cached.Save(ctx, "counters/water/2024-05-06", []byte("v1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, trackerr.ErrPersistence)
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 1, cached.Pending())

	// the in-memory view still serves the value, no backend load happens
	v, err := cached.Load(ctx, "counters/water/2024-05-06")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))

	// flush still failing
	backend.EXPECT().Save(gomock.Any(), "counters/water/2024-05-06", []byte("v1")).Return(errBackendDown)
	err = cached.Flush(ctx)
	assert.ErrorIs(t, err, trackerr.ErrPersistence)
	assert.Equal(t, 1, cached.Pending())

	// backend recovered
	backend.EXPECT().Save(gomock.Any(), "counters/water/2024-05-06", []byte("v1")).Return(nil)
	require.NoError(t, cached.Flush(ctx))
	assert.Equal(t, 0, cached.Pending())
}

func TestCached_Flush_PartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()
	errDiskFull := errors.New("disk full")

	for _, key := range []string{"a", "b", "c"} {
		backend.EXPECT().Save(gomock.Any(), key, []byte(key)).Return(errBackendDown)
		require.Error(t, cached.Save(ctx, key, []byte(key)))
	}
	require.Equal(t, 3, cached.Pending())

	backend.EXPECT().Save(gomock.Any(), "a", []byte("a")).Return(nil)
	backend.EXPECT().Save(gomock.Any(), "b", []byte("b")).Return(errBackendDown)
	backend.EXPECT().Save(gomock.Any(), "c", []byte("c")).Return(errDiskFull)

	err := cached.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, trackerr.ErrPersistence)
	assert.ErrorIs(t, err, errBackendDown)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), "flush [b]")
	assert.Contains(t, err.Error(), "flush [c]")
	assert.Equal(t, 2, cached.Pending())

	backend.EXPECT().Save(gomock.Any(), "b", []byte("b")).Return(nil)
	backend.EXPECT().Save(gomock.Any(), "c", []byte("c")).Return(nil)
	require.NoError(t, cached.Flush(ctx))
	assert.Equal(t, 0, cached.Pending())
	require.NoError(t, cached.Flush(ctx))
}

func TestCached_Flush_KeepsWriteReplacedDuringFlush(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()

	backend.EXPECT().Save(gomock.Any(), "k", []byte("v1")).Return(errBackendDown)
	require.Error(t, cached.Save(ctx, "k", []byte("v1")))

	// v1 reaches the backend while a newer v2 is rejected
	backend.EXPECT().Save(gomock.Any(), "k", []byte("v2")).Return(errBackendDown)
	backend.EXPECT().Save(gomock.Any(), "k", []byte("v1")).DoAndReturn(
		func(ctx context.Context, key string, _ []byte) error {
			assert.Error(t, cached.Save(ctx, key, []byte("v2")))
			return nil
		},
	)
	require.NoError(t, cached.Flush(ctx))
	assert.Equal(t, 1, cached.Pending())

	v, err := cached.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))

	backend.EXPECT().Save(gomock.Any(), "k", []byte("v2")).Return(nil)
	require.NoError(t, cached.Flush(ctx))
	assert.Equal(t, 0, cached.Pending())
}

func TestCached_Delete(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()

	backend.EXPECT().Save(gomock.Any(), "k", []byte("v")).Return(nil)
	require.NoError(t, cached.Save(ctx, "k", []byte("v")))

	backend.EXPECT().Delete(gomock.Any(), "k").Return(errBackendDown)
	err := cached.Delete(ctx, "k")
	assert.ErrorIs(t, err, trackerr.ErrPersistence)

	// tombstone hides the value until flushed
	_, err = cached.Load(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	backend.EXPECT().Delete(gomock.Any(), "k").Return(storage.ErrNotFound)
	require.NoError(t, cached.Flush(ctx))
	assert.Equal(t, 0, cached.Pending())

	backend.EXPECT().Delete(gomock.Any(), "missing").Return(storage.ErrNotFound)
	assert.ErrorIs(t, cached.Delete(ctx, "missing"), storage.ErrNotFound)
}

func TestCached_Delete_NeverPersistedValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockStore(ctrl)
	cached := storage.NewCached(backend, 1, time.Hour)
	ctx := context.Background()

	backend.EXPECT().Save(gomock.Any(), "k", []byte("v")).Return(errBackendDown)
	require.Error(t, cached.Save(ctx, "k", []byte("v")))

	backend.EXPECT().Delete(gomock.Any(), "k").Return(storage.ErrNotFound)
	require.NoError(t, cached.Delete(ctx, "k"))
	assert.Equal(t, 0, cached.Pending())

	backend.EXPECT().Load(gomock.Any(), "k").Return(nil, storage.ErrNotFound)
	_, err := cached.Load(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	_, err := m.Load(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	value := []byte("one")
	require.NoError(t, m.Save(ctx, "a", value))
	value[0] = 'X'

	v, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "a"))
	assert.ErrorIs(t, m.Delete(ctx, "a"), storage.ErrNotFound)
	assert.Equal(t, "events/water/2024-05-06", storage.Key("events", "water", "2024-05-06"))
}
