package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
)

const defaultKeyPrefix = "sales:session:"

// RedisStore keeps sessions in Redis as JSON values with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // Expiry refreshed on every write; 0 keeps keys forever
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) loopKey(id string) string  { return r.prefix + id + ":loop" }
func (r *RedisStore) stateKey(id string) string { return r.prefix + id + ":state" }

// GetRecord implements loop.SessionStore.
func (r *RedisStore) GetRecord(ctx context.Context, sessionID string) (*loop.Record, error) {
	var rec loop.Record
	if err := r.getJSON(ctx, r.loopKey(sessionID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutRecord implements loop.SessionStore.
func (r *RedisStore) PutRecord(ctx context.Context, sessionID string, record *loop.Record) error {
	if record == nil {
		record = &loop.Record{}
	}
	return r.setJSON(ctx, r.loopKey(sessionID), record)
}

// DeleteRecord implements loop.SessionStore.
func (r *RedisStore) DeleteRecord(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.loopKey(sessionID)).Err()
}

// GetState implements StateStore.
func (r *RedisStore) GetState(ctx context.Context, sessionID string) (*State, error) {
	var state State
	if err := r.getJSON(ctx, r.stateKey(sessionID), &state); err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// PutState implements StateStore.
func (r *RedisStore) PutState(ctx context.Context, state *State) error {
	if state == nil || state.SessionID == "" {
		return domerrors.NewValidationError("session_id", "state must carry a session id")
	}
	return r.setJSON(ctx, r.stateKey(state.SessionID), state)
}

// DeleteState implements StateStore.
func (r *RedisStore) DeleteState(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.stateKey(sessionID)).Err()
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
