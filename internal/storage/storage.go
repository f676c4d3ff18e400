package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/2beens/fittracker/internal/tracker/trackerr"
)

// ErrNotFound is returned by Load and Delete when the key does not exist.
var ErrNotFound = fmt.Errorf("key %w", trackerr.ErrNotFound)

//go:generate mockgen -source=$GOFILE -destination=store_mocks_test.go -package=storage_test

// Store is the narrow key-value port the tracker persists through.
// Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key joins key parts with "/", e.g. Key("events", "water", "2024-05-06").
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
