package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "minpaku:wizard:"
	defaultRedisRetries   = 50
	redisRetryBackoff     = 2 * time.Millisecond
)

// RedisStore keeps state as JSON values under a per-visitor key. Update uses
// WATCH/MULTI so concurrent writers from several instances never interleave.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retries int
	now     func() time.Time
}

// RedisOption customises a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix sets the key namespace.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL sets the idle expiry applied on every write.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRedisClock overrides the clock.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  defaultRedisKeyPrefix,
		ttl:     defaultStateTTL,
		retries: defaultRedisRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient opens a client for addr and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("wizard: redis ping %s: %w", addr, err)
	}
	return client, nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) (State, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("wizard: redis get: %w", err)
	}
	return decodeState(data)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (State, error) {
	key := s.key(id)
	var (
		result State
		fnErr  error
	)

	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		current := NewState(now)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("wizard: redis get: %w", err)
		default:
			if current, err = decodeState(data); err != nil {
				return err
			}
		}

		next := current
		if err := fn(&next); err != nil {
			result, fnErr = current, err
			return nil
		}
		next.UpdatedAt = now
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("wizard: encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result, fnErr = next, nil
		return nil
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			select {
			case <-ctx.Done():
				return State{}, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * redisRetryBackoff):
			}
			continue
		}
		if err != nil {
			return State{}, err
		}
		return result, fnErr
	}
	return State{}, ErrConflict
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("wizard: redis del: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("wizard: decode state: %w", err)
	}
	return st, nil
}
