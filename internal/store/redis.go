// Package store implements the external session store contract on top of
// Redis: the restore hook reads instance contexts back, and the snapshot
// writer persists the registry's records so a restarted process can warm
// sessions it never created.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/internal/restore"
	"go-mcp-session-engine/internal/session"
)

const keyPrefix = "session_ctx"

func key(handle string) string {
	return keyPrefix + ":" + handle
}

// NewRedisUniversalClient creates a universal client from a redis URL
// (redis://host:port/db).
func NewRedisUniversalClient(redisURL string) (redis.UniversalClient, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cant parse redis url: %w", err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{options.Addr},
		DB:           options.DB,
		Username:     options.Username,
		Password:     options.Password,
		DialTimeout:  options.DialTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		MaxRetries:   options.MaxRetries,
		PoolSize:     options.PoolSize,
		PoolTimeout:  options.PoolTimeout,
		MinIdleConns: options.MinIdleConns,
	}), nil
}

// SessionStore persists instance contexts keyed by session handle
// (key: session_ctx:{handle}, value: JSON instance context).
type SessionStore struct {
	client redis.UniversalClient
}

// NewSessionStore creates a SessionStore over an existing client.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

// Lookup fetches the instance context for a handle. A missing key is
// reported as (nil, nil), matching the restore hook contract; a Redis
// deadline is surfaced as a timeout-kind error so the restoration
// controller will not retry it.
func (s *SessionStore) Lookup(ctx context.Context, handle string) (*instance.Context, error) {
	data, err := s.client.Get(ctx, key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", restore.ErrHookTimeout, err)
		}
		return nil, fmt.Errorf("failed to get session context from redis: %w", err)
	}

	var ictx instance.Context
	if err := json.Unmarshal(data, &ictx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session context from redis: %w", err)
	}
	return &ictx, nil
}

// Hook adapts the store to the restoration controller's hook type.
func (s *SessionStore) Hook() restore.Hook {
	return s.Lookup
}

// Save persists one record's instance context with the given TTL.
func (s *SessionStore) Save(ctx context.Context, rec session.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal session context: %w", err)
	}
	if err := s.client.Set(ctx, key(rec.Handle), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session context to redis: %w", err)
	}
	return nil
}

// SaveSnapshot persists a registry snapshot in one pipeline.
func (s *SessionStore) SaveSnapshot(ctx context.Context, records []session.Record, ttl time.Duration) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, rec := range records {
		data, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context for session %s: %w", rec.Handle, err)
		}
		pipe.Set(ctx, key(rec.Handle), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist session snapshot to redis: %w", err)
	}
	return nil
}

// Delete removes a handle's persisted context. Deleting a handle that
// was never persisted is a no-op.
func (s *SessionStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.Del(ctx, key(handle)).Err(); err != nil {
		return fmt.Errorf("failed to delete session context from redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}
