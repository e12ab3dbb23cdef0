package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/circuitbreaker"
)

const maxUpdateAttempts = 8

// RedisStore keeps each run as one JSON value with a TTL. Expiry replaces
// sweeping; updates use optimistic WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	cb     *circuitbreaker.Breaker
	logger *zap.Logger
}

// NewRedisStore wraps client. Keys are prefix+id and expire ttl after the
// last write.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, cb circuitbreaker.Settings, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "forensight:run:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	breaker := circuitbreaker.New("redis", cb.FromEnv("redis"), logger)
	circuitbreaker.GlobalCollector.Register(breaker, "redis")
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, cb: breaker, logger: logger}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// outcome marks an error that is a valid answer from Redis rather than a
// dependency failure; the breaker does not count it.
type outcome struct{ err error }

func (o outcome) Error() string { return o.err.Error() }

// guard runs fn through the breaker and unwraps outcome errors.
func (s *RedisStore) guard(ctx context.Context, fn func() error) error {
	var result error
	err := s.cb.Execute(ctx, func() error {
		err := fn()
		var o outcome
		if errors.As(err, &o) {
			result = o.err
			return nil
		}
		return err
	})
	circuitbreaker.GlobalCollector.RecordRequest(s.cb, err == nil)
	if err != nil {
		return err
	}
	return result
}

func (s *RedisStore) Create(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.guard(ctx, func() error {
		ok, err := s.client.SetNX(ctx, s.key(run.ID), data, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		if !ok {
			return outcome{ErrRunExists}
		}
		return nil
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Run, error) {
	var run *Run
	err := s.guard(ctx, func() error {
		data, err := s.client.Get(ctx, s.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return outcome{ErrRunNotFound}
		}
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		run, err = decodeRun(data)
		return err
	})
	return run, err
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Run) error) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return outcome{ErrRunNotFound}
		}
		if err != nil {
			return err
		}
		run, err := decodeRun(data)
		if err != nil {
			return err
		}
		if err := fn(run); err != nil {
			return outcome{err}
		}
		next, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	}

	return s.guard(ctx, func() error {
		for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
			err := s.client.Watch(ctx, txf, key)
			if errors.Is(err, redis.TxFailedErr) {
				s.logger.Debug("Run update conflict, retrying", zap.String("run_id", id), zap.Int("attempt", attempt+1))
				continue
			}
			return err
		}
		return fmt.Errorf("update run %s: too many conflicting writers", id)
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.guard(ctx, func() error {
		return s.client.Del(ctx, s.key(id)).Err()
	})
}

// Sweep is a no-op; Redis expires runs on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decodeRun(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// Ping checks connectivity through the breaker.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.guard(ctx, func() error { return s.client.Ping(ctx).Err() })
}

// Breaker exposes the store's circuit breaker.
func (s *RedisStore) Breaker() *circuitbreaker.Breaker { return s.cb }
