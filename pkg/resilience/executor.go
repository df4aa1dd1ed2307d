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

package resilience

import (
	"context"
	"errors"
	"time"
)

// ShouldRetryFn reports whether an error is retryable.
type ShouldRetryFn func(error) bool

// OnRetryFn is invoked before each retry with the retry number and planned delay.
type OnRetryFn func(attempt int, err error, delay time.Duration)

// Executor retries an operation according to a BackoffConfig.
type Executor struct {
	cfg         BackoffConfig
	calc        *Calculator
	shouldRetry ShouldRetryFn
	onRetry     OnRetryFn
}

// Option configures an Executor.
type Option func(*Executor)

// WithShouldRetry overrides the retryable error decision.
func WithShouldRetry(fn ShouldRetryFn) Option {
	return func(e *Executor) { e.shouldRetry = fn }
}

// WithOnRetry sets the retry callback.
func WithOnRetry(fn OnRetryFn) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// NewExecutor creates an Executor after validating cfg.
func NewExecutor(cfg BackoffConfig, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ex := &Executor{
		cfg:  cfg,
		calc: NewCalculator(cfg),
		shouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex, nil
}

// Do runs op, retrying retryable failures until MaxRetries is exhausted.
// The last error is returned unchanged.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if e.cfg.Strategy == StrategyNone || retries >= e.cfg.MaxRetries || !e.shouldRetry(err) {
			return err
		}

		retries++
		delay := e.calc.Delay(retries)
		if e.onRetry != nil {
			e.onRetry(retries, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
