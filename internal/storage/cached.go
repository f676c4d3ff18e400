package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/fittracker/internal/tracker/trackerr"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const megabyte = 1024 * 1024

type pendingWrite struct {
	value   []byte
	deleted bool
	version uint64
}

// Cached wraps a backend store with a freecache read-through cache and keeps
// writes the backend rejected as pending, so reads keep seeing them until a
// Flush succeeds.
type Cached struct {
	backend   Store
	cache     *freecache.Cache
	expireSec int

	mutex   sync.Mutex
	pending map[string]pendingWrite
	version uint64
}

func NewCached(backend Store, cacheSizeMB int, ttl time.Duration) *Cached {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 16
	}
	return &Cached{
		backend:   backend,
		cache:     freecache.NewCache(cacheSizeMB * megabyte),
		expireSec: int(ttl.Seconds()),
		pending:   make(map[string]pendingWrite),
	}
}

func (c *Cached) Load(ctx context.Context, key string) ([]byte, error) {
	c.mutex.Lock()
	pw, isPending := c.pending[key]
	c.mutex.Unlock()
	if isPending {
		if pw.deleted {
			return nil, ErrNotFound
		}
		return clone(pw.value), nil
	}

	if v, err := c.cache.Get([]byte(key)); err == nil {
		return v, nil
	}

	v, err := c.backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	c.setCache(key, v)
	return v, nil
}

func (c *Cached) Save(ctx context.Context, key string, value []byte) error {
	c.setCache(key, value)

	if err := c.backend.Save(ctx, key, value); err != nil {
		c.markPending(key, pendingWrite{value: clone(value)})
		return fmt.Errorf("save [%s]: %w: %w", key, trackerr.ErrPersistence, err)
	}

	c.clearPending(key, 0)
	return nil
}

func (c *Cached) Delete(ctx context.Context, key string) error {
	c.cache.Del([]byte(key))

	c.mutex.Lock()
	pw, wasPending := c.pending[key]
	c.mutex.Unlock()

	err := c.backend.Delete(ctx, key)
	switch {
	case err == nil:
		c.clearPending(key, 0)
		return nil
	case errors.Is(err, ErrNotFound):
		if wasPending && !pw.deleted {
			// never reached the backend
			c.clearPending(key, 0)
			return nil
		}
		return err
	default:
		c.markPending(key, pendingWrite{deleted: true})
		return fmt.Errorf("delete [%s]: %w: %w", key, trackerr.ErrPersistence, err)
	}
}

// Flush retries all pending writes against the backend.
func (c *Cached) Flush(ctx context.Context) error {
	c.mutex.Lock()
	toFlush := make(map[string]pendingWrite, len(c.pending))
	for k, pw := range c.pending {
		toFlush[k] = pw
	}
	c.mutex.Unlock()

	var flushErr error
	for key, pw := range toFlush {
		var err error
		if pw.deleted {
			if err = c.backend.Delete(ctx, key); errors.Is(err, ErrNotFound) {
				err = nil
			}
		} else {
			err = c.backend.Save(ctx, key, pw.value)
		}

		if err != nil {
			flushErr = multierr.Append(flushErr, fmt.Errorf("flush [%s]: %w", key, err))
			continue
		}
		c.clearPending(key, pw.version)
	}

	if flushErr != nil {
		return fmt.Errorf("%w: %w", trackerr.ErrPersistence, flushErr)
	}
	return nil
}

// Pending returns the number of writes not yet accepted by the backend.
func (c *Cached) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)
}

func (c *Cached) setCache(key string, value []byte) {
	if err := c.cache.Set([]byte(key), value, c.expireSec); err != nil {
		// entry too large for the cache, reads fall through to the backend
		log.Debugf("cached store, set [%s]: %s", key, err)
		c.cache.Del([]byte(key))
	}
}

func (c *Cached) markPending(key string, pw pendingWrite) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.version++
	pw.version = c.version
	c.pending[key] = pw
}

// clearPending drops the pending write for key. A non zero version only
// clears the entry if it was not replaced in the meantime.
func (c *Cached) clearPending(key string, version uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if pw, ok := c.pending[key]; ok && (version == 0 || pw.version == version) {
		delete(c.pending, key)
	}
}
