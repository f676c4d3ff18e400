package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/fittracker/internal/storage"

	"github.com/go-redis/redis/v8"
)

const DefaultKeyPrefix = "fittracker||"

type Store struct {
	redisClient *redis.Client
	keyPrefix   string
}

func New(redisClient *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
	}
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := s.redisClient.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get [%s]: %w", key, err)
	}
	return value, nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if err := s.redisClient.Set(ctx, s.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set [%s]: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	deleted, err := s.redisClient.Del(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis del [%s]: %w", key, err)
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}
