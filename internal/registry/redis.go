package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding every instance's in-flight machines.
const DefaultRedisKey = "videorelay:machines"

// RedisStore keeps entries in a Redis hash keyed by machine id, shared by
// every instance of the service.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, DefaultRedisKey), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		logger: slog.With("component", "registry"),
	}
}

// Track records an entry.
func (s *RedisStore) Track(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, e.MachineID, data).Err(); err != nil {
		return fmt.Errorf("failed to track machine: %w", err)
	}
	return nil
}

// Release removes an entry. HDEL is atomic, so only one caller sees true.
func (s *RedisStore) Release(ctx context.Context, machineID string) (bool, error) {
	n, err := s.client.HDel(ctx, s.key, machineID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to release machine: %w", err)
	}
	return n > 0, nil
}

// List returns all entries. Malformed values are skipped.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for id, raw := range values {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("Skipping malformed registry entry", "machineId", id, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
