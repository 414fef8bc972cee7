package fraudreport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sentra:fraud-reports:"

// RedisStore keeps each sender's denylist in a Redis set.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed fraud report store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Add(ctx context.Context, senderID, destination string) (bool, error) {
	n, err := s.client.SAdd(ctx, keyPrefix+senderID, destination).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add fraud report: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context, senderID string) ([]string, error) {
	dests, err := s.client.SMembers(ctx, keyPrefix+senderID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud reports: %w", err)
	}
	return dests, nil
}

// Ping checks connectivity for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
