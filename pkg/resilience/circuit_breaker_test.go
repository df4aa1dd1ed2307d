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
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, mutate func(*CircuitBreakerConfig)) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = "payment-processor"
	cfg.VolumeThreshold = 4
	cfg.Timeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	cb, err := NewCircuitBreaker(cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	cb.window = newRollingWindow(cfg.RollingWindow, cfg.RollingBuckets, clock.Now())
	return cb, clock
}

var errDownstream = errors.New("downstream failure")

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errDownstream }

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	valid := DefaultCircuitBreakerConfig()
	tests := []struct {
		name    string
		mutate  func(*CircuitBreakerConfig)
		wantErr bool
	}{
		{"default config", func(*CircuitBreakerConfig) {}, false},
		{"empty name", func(c *CircuitBreakerConfig) { c.Name = "" }, true},
		{"zero timeout", func(c *CircuitBreakerConfig) { c.Timeout = 0 }, true},
		{"threshold above 100", func(c *CircuitBreakerConfig) { c.ErrorThresholdPercentage = 150 }, true},
		{"zero threshold", func(c *CircuitBreakerConfig) { c.ErrorThresholdPercentage = 0 }, true},
		{"negative window", func(c *CircuitBreakerConfig) { c.RollingWindow = -time.Second }, true},
		{"zero buckets", func(c *CircuitBreakerConfig) { c.RollingBuckets = 0 }, true},
		{"window shorter than buckets", func(c *CircuitBreakerConfig) { c.RollingWindow = 5; c.RollingBuckets = 10 }, true},
		{"zero reset timeout", func(c *CircuitBreakerConfig) { c.ResetTimeout = 0 }, true},
		{"zero volume", func(c *CircuitBreakerConfig) { c.VolumeThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.ErrorThresholdPercentage != 50 {
		t.Errorf("ErrorThresholdPercentage = %v, want 50", cfg.ErrorThresholdPercentage)
	}
	if cfg.RollingWindow != 10*time.Second {
		t.Errorf("RollingWindow = %v, want 10s", cfg.RollingWindow)
	}
	if cfg.ResetTimeout < 30*time.Second || cfg.ResetTimeout > 60*time.Second {
		t.Errorf("ResetTimeout = %v, want within [30s, 60s]", cfg.ResetTimeout)
	}
}

func TestCircuitBreaker_TripsOnFailureRate(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state below volume threshold = %v, want CLOSED", got)
	}

	if err := cb.Execute(ctx, fail); !errors.Is(err, errDownstream) {
		t.Fatalf("Execute() error = %v, want downstream error", err)
	}
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state at 50%% failures = %v, want OPEN", got)
	}
	if cb.Stats().OpenedAt == nil {
		t.Error("OpenedAt should be recorded when the breaker opens")
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, succeed)
	}
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)

	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state at 20%% failures = %v, want CLOSED", got)
	}
	counts := cb.GetCounts()
	if counts.Requests != 5 || counts.Failures != 1 || counts.Successes != 4 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 1 })
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	calls := 0
	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(context.Context) error {
			calls++
			return nil
		})
		if !errors.Is(err, ErrOpenState) {
			t.Fatalf("Execute() error = %v, want ErrOpenState", err)
		}
		if !IsRejection(err) {
			t.Fatal("IsRejection() should be true for ErrOpenState")
		}
	}
	if calls != 0 {
		t.Fatalf("dependency called %d times while OPEN", calls)
	}
	if got := cb.GetCounts().Rejections; got != 5 {
		t.Errorf("Rejections = %d, want 5", got)
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 1 })
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	clock.Advance(29 * time.Second)
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state before reset timeout = %v, want OPEN", got)
	}
	clock.Advance(time.Second)
	if got := cb.GetState(); got != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want HALF_OPEN", got)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	secondCalled := false
	err := cb.Execute(ctx, func(context.Context) error {
		secondCalled = true
		return nil
	})
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("second half-open call error = %v, want ErrTooManyRequests", err)
	}
	if secondCalled {
		t.Fatal("second half-open call reached the dependency")
	}

	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state after successful trial = %v, want CLOSED", got)
	}
	if counts := cb.GetCounts(); counts.Requests != 0 || counts.Failures != 0 {
		t.Errorf("counts after close = %+v, want cleared", counts)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 1 })
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	firstOpen := *cb.Stats().OpenedAt

	clock.Advance(31 * time.Second)
	if err := cb.Execute(ctx, fail); !errors.Is(err, errDownstream) {
		t.Fatalf("trial error = %v", err)
	}
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state after failed trial = %v, want OPEN", got)
	}
	reopened := *cb.Stats().OpenedAt
	if !reopened.After(firstOpen) {
		t.Errorf("reset timer should restart: opened %v then %v", firstOpen, reopened)
	}

	clock.Advance(29 * time.Second)
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state before restarted timeout = %v, want OPEN", got)
	}
}

func TestCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) {
		c.Timeout = 20 * time.Millisecond
		c.VolumeThreshold = 10
	})
	block := make(chan struct{})
	defer close(block)

	err := cb.Execute(context.Background(), func(context.Context) error {
		<-block
		return nil
	})
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("Execute() error = %v, want ErrCallTimeout", err)
	}
	if got := cb.GetCounts().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
	if got := cb.GetMetrics().Snapshot().Timeouts; got != 1 {
		t.Errorf("lifetime timeouts = %d, want 1", got)
	}
}

func TestCircuitBreaker_OperationSeesDeadline(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.Timeout = 20 * time.Millisecond })

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline on operation context")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("Execute() error = %v, want a timeout", err)
	}
	if got := cb.GetCounts().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestCircuitBreaker_ResetForcesClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 1 })
	_ = cb.Execute(context.Background(), fail)
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.Reset()

	stats := cb.Stats()
	if stats.State != StateClosed {
		t.Fatalf("state after Reset = %v, want CLOSED", stats.State)
	}
	if stats.Counts.Requests != 0 || stats.OpenedAt != nil {
		t.Errorf("stats after Reset = %+v", stats)
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Execute() after Reset = %v", err)
	}
}

func TestCircuitBreaker_RollingWindowExpiresOldOutcomes(t *testing.T) {
	cb, clock := newTestBreaker(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)
	_ = cb.Execute(ctx, fail)

	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("failures outside the window tripped the breaker: %v", got)
	}
	if got := cb.GetCounts().Requests; got != 1 {
		t.Errorf("Requests in window = %d, want 1", got)
	}
}

func TestCircuitBreaker_StaleOutcomeIgnored(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 2 })
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	close(release)
	<-done
	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("outcome from previous generation changed state to %v", got)
	}
}

func TestCircuitBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 5 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, fail)
		}()
	}
	wg.Wait()

	if got := cb.GetMetrics().Snapshot().OpenTransitions; got != 1 {
		t.Fatalf("OpenTransitions = %d, want exactly 1", got)
	}
}

func TestCircuitBreaker_CallerCancelReleasesTrial(t *testing.T) {
	cb, clock := newTestBreaker(t, func(c *CircuitBreakerConfig) { c.VolumeThreshold = 1 })
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(31 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cb.Execute(ctx, succeed); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() with cancelled ctx = %v", err)
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("trial after cancelled caller = %v", err)
	}
	if got := cb.GetState(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(t, func(c *CircuitBreakerConfig) {
		c.VolumeThreshold = 1
		c.OnStateChange = func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(31 * time.Second)
	_ = cb.Execute(ctx, succeed)

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)

	v, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("ExecuteWithResult() = %q, %v", v, err)
	}

	_, err = ExecuteWithResult(context.Background(), cb, func(context.Context) (int, error) {
		return 0, errDownstream
	})
	if !errors.Is(err, errDownstream) {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
}

func TestCircuitBreaker_PanicIsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)

	err := cb.Execute(context.Background(), func(context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking operation")
	}
	if got := cb.GetCounts().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(9), "UNKNOWN(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
