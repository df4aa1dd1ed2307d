// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/pkg/resilience"
)

// RedisLedger keeps stock counters in redis so several coordinators can
// share them. Reserve uses WATCH/MULTI and retries on conflicting writes.
type RedisLedger struct {
	client   redis.UniversalClient
	prefix   string
	executor *resilience.Executor
	logger   *zap.Logger
}

// NewRedisLedger creates a ledger whose keys live under prefix.
func NewRedisLedger(client redis.UniversalClient, prefix string, logger *zap.Logger) (*RedisLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RedisLedger{client: client, prefix: prefix, logger: logger}

	backoff := resilience.BackoffConfig{
		MaxRetries:    10,
		InitialDelay:  2 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		Multiplier:    2,
		Strategy:      resilience.StrategyJittered,
		JitterPercent: 50,
	}
	exec, err := resilience.NewExecutor(backoff,
		resilience.WithShouldRetry(func(err error) bool { return errors.Is(err, redis.TxFailedErr) }),
		resilience.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("stock reservation conflict, retrying",
				zap.Int("attempt", attempt), zap.Duration("delay", delay))
		}),
	)
	if err != nil {
		return nil, err
	}
	l.executor = exec
	return l, nil
}

func (l *RedisLedger) key(code string) string {
	if l.prefix == "" {
		return "stock:" + code
	}
	return l.prefix + ":stock:" + code
}

// Reserve implements Ledger.
func (l *RedisLedger) Reserve(ctx context.Context, code string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	key := l.key(code)

	return l.executor.Do(ctx, func(ctx context.Context) error {
		return l.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := readQuantity(ctx, tx, key)
			if err != nil {
				return err
			}
			if current < qty {
				return fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, code, current, qty)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.DecrBy(ctx, key, int64(qty))
				return nil
			})
			return err
		}, key)
	})
}

// Release implements Ledger.
func (l *RedisLedger) Release(ctx context.Context, code string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := l.client.IncrBy(ctx, l.key(code), int64(qty)).Err(); err != nil {
		return fmt.Errorf("release stock %s: %w", code, err)
	}
	return nil
}

// Available implements Ledger. A missing key means no stock.
func (l *RedisLedger) Available(ctx context.Context, code string) (int, error) {
	return readQuantity(ctx, l.client, l.key(code))
}

// Set implements Ledger.
func (l *RedisLedger) Set(ctx context.Context, code string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if err := l.client.Set(ctx, l.key(code), qty, 0).Err(); err != nil {
		return fmt.Errorf("set stock %s: %w", code, err)
	}
	return nil
}

// SetIfAbsent initialises the stock of code unless it is already tracked.
func (l *RedisLedger) SetIfAbsent(ctx context.Context, code string, qty int) (bool, error) {
	if qty < 0 {
		return false, ErrInvalidQuantity
	}
	ok, err := l.client.SetNX(ctx, l.key(code), qty, 0).Result()
	if err != nil {
		return false, fmt.Errorf("init stock %s: %w", code, err)
	}
	return ok, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readQuantity(ctx context.Context, c stringGetter, key string) (int, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stock %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("read stock %s: %w", key, err)
	}
	return n, nil
}
