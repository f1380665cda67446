package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"verdict/internal/constants"
	"verdict/internal/logger"
	"verdict/pkg/circuitbreaker"
	"verdict/pkg/metrics"
	"verdict/pkg/retry"
)

// FireSink receives fire-count increments from the evaluation path.
// Implementations must never fail an evaluation: errors are absorbed
// and logged, and counters converge eventually.
type FireSink interface {
	RecordFire(ctx context.Context, ruleID string)
}

// StoreFireSink writes increments straight through to the store. Fine
// for single-node deployments and tests.
type StoreFireSink struct {
	store  Store
	logger logger.Logger
}

func NewStoreFireSink(store Store, log logger.Logger) *StoreFireSink {
	return &StoreFireSink{store: store, logger: log}
}

func (s *StoreFireSink) RecordFire(ctx context.Context, ruleID string) {
	if err := s.store.IncrementFireCounts(ctx, map[string]int64{ruleID: 1}); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record rule fire",
			"rule_id", ruleID,
			"error", err,
		)
	}
}

// RedisFireSink batches increments in a Redis hash and flushes them to
// the store on an interval. The Redis call sits behind a circuit
// breaker; when Redis is down, increments fall through to the store
// directly so no fire is lost.
type RedisFireSink struct {
	client  *redis.Client
	store   Store
	breaker *circuitbreaker.Wrapper
	policy  retry.Policy
	logger  logger.Logger
	key     string
}

func NewRedisFireSink(client *redis.Client, store Store, log logger.Logger) *RedisFireSink {
	return &RedisFireSink{
		client:  client,
		store:   store,
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("fire-counter-sink")),
		policy:  retry.DefaultPolicy(),
		logger:  log,
		key:     constants.FireCounterKey,
	}
}

func (s *RedisFireSink) RecordFire(ctx context.Context, ruleID string) {
	_, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.client.HIncrBy(ctx, s.key, ruleID, 1).Err()
	})
	if err == nil {
		return
	}

	s.logger.WarnwCtx(ctx, "Redis fire counter unavailable, writing through to store",
		"rule_id", ruleID,
		"error", err,
	)
	if storeErr := s.store.IncrementFireCounts(ctx, map[string]int64{ruleID: 1}); storeErr != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record rule fire",
			"rule_id", ruleID,
			"error", storeErr,
		)
	}
}

// Flush drains the accumulated counters into the store. The hash is
// renamed first so increments arriving mid-flush land in the next batch.
func (s *RedisFireSink) Flush(ctx context.Context) error {
	staging := s.key + ":flushing"

	err := s.client.Rename(ctx, s.key, staging).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "no such key") {
			return nil // nothing buffered
		}
		metrics.IncCounterFlush("error")
		return fmt.Errorf("failed to stage fire counters: %w", err)
	}

	raw, err := s.client.HGetAll(ctx, staging).Result()
	if err != nil {
		metrics.IncCounterFlush("error")
		return fmt.Errorf("failed to read staged fire counters: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for ruleID, v := range raw {
		n, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil || n <= 0 {
			continue
		}
		counts[ruleID] = n
	}

	if len(counts) > 0 {
		err = retry.Retry(ctx, s.policy, func() error {
			return s.store.IncrementFireCounts(ctx, counts)
		})
		if err != nil {
			metrics.IncCounterFlush("error")
			return fmt.Errorf("failed to flush fire counters to store: %w", err)
		}
	}

	if err := s.client.Del(ctx, staging).Err(); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to delete staged fire counters",
			"error", err,
		)
	}

	metrics.IncCounterFlush("success")
	return nil
}

func (s *RedisFireSink) StartFlusher(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Fire counter flush failed",
					"error", err,
				)
			}
		case <-ctx.Done():
			// Final drain on shutdown, best effort.
			flushCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Errorw("Final fire counter flush failed",
					"error", err,
				)
			}
			return ctx.Err()
		}
	}
}
