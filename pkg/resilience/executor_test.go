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
	"testing"
	"time"
)

func TestExecutor_NoRetry(t *testing.T) {
	ex, err := NewExecutor(FixedBackoff(time.Millisecond, 0))
	if err != nil {
		t.Fatalf("new executor error: %v", err)
	}

	calls := 0
	err = ex.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	ex, err := NewExecutor(FixedBackoff(time.Millisecond, 3))
	if err != nil {
		t.Fatalf("new executor error: %v", err)
	}

	var retries []int
	ex.onRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	calls := 0
	err = ex.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("conflict")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("retry callbacks = %v", retries)
	}
}

func TestExecutor_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	ex, err := NewExecutor(FixedBackoff(time.Millisecond, 5), WithShouldRetry(func(err error) bool {
		return !errors.Is(err, permanent)
	}))
	if err != nil {
		t.Fatalf("new executor error: %v", err)
	}

	calls := 0
	err = ex.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	ex, err := NewExecutor(FixedBackoff(time.Hour, 3))
	if err != nil {
		t.Fatalf("new executor error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = ex.Do(ctx, func(context.Context) error { return errors.New("retry me") })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want deadline exceeded", err)
	}
}

func TestNewExecutor_InvalidConfig(t *testing.T) {
	if _, err := NewExecutor(BackoffConfig{MaxRetries: -1}); err == nil {
		t.Fatal("expected validation error")
	}
}
