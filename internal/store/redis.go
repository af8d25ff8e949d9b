package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sehha.app/diagnosis-assistant/internal/policy"
)

const policyTableKey = "policy:qtable"

// RedisStore shares the policy table between replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) LoadTable(ctx context.Context) (policy.Table, error) {
	val, err := r.client.Get(ctx, policyTableKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(policy.Table), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", policyTableKey, err)
	}
	t := make(policy.Table)
	if err := json.Unmarshal(val, &t); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", policyTableKey, err)
	}
	return t, nil
}

func (r *RedisStore) SaveTable(ctx context.Context, t policy.Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode policy table: %w", err)
	}
	if err := r.client.Set(ctx, policyTableKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", policyTableKey, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
