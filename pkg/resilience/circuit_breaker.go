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
	"fmt"
	"sync"
	"time"
)

var (
	// ErrOpenState 表示熔断器处于打开状态
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests 表示半开状态下已有试探调用在执行
	ErrTooManyRequests = errors.New("too many requests in half-open state")

	// ErrCallTimeout 表示被保护的调用超过了配置的超时时间
	ErrCallTimeout = errors.New("circuit breaker call timed out")
)

// IsRejection 判断错误是否是熔断器直接拒绝（未调用下游）。
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpenState) || errors.Is(err, ErrTooManyRequests)
}

// CircuitBreaker 实现熔断器模式。
//
// 熔断器有三种状态：
// - Closed: 正常处理请求，在滚动窗口内统计失败率
// - Open: 直接拒绝请求，快速失败
// - Half-Open: 只允许一次试探调用，成功则关闭，失败则重新打开
//
// 一个实例可以被多个 goroutine 共享。状态转换在锁内完成，并通过代数
// (generation) 丢弃属于旧状态的调用结果，保证不会发生重复转换。
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	generation    uint64
	window        *rollingWindow
	latency       *latencyRing
	openedAt      time.Time
	expiry        time.Time
	trialInFlight bool

	metrics *CircuitBreakerMetrics
	prom    *CircuitBreakerPrometheusMetrics
	now     func() time.Time
}

// CircuitBreakerStats 是熔断器的对外统计快照。
type CircuitBreakerStats struct {
	Name        string             `json:"name"`
	State       State              `json:"state"`
	Counts      Counts             `json:"counts"`
	FailureRate float64            `json:"failure_rate"`
	WindowStart time.Time          `json:"window_start"`
	OpenedAt    *time.Time         `json:"opened_at,omitempty"`
	Latency     LatencyPercentiles `json:"latency"`
}

// NewCircuitBreaker 创建一个新的熔断器实例。
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool {
			return err == nil
		}
	}

	now := time.Now()
	return &CircuitBreaker{
		name:    config.Name,
		config:  config,
		state:   StateClosed,
		window:  newRollingWindow(config.RollingWindow, config.RollingBuckets, now),
		latency: newLatencyRing(config.LatencySamples),
		metrics: NewCircuitBreakerMetrics(),
		now:     time.Now,
	}, nil
}

// Name 返回熔断器名称。
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute 在超时保护下执行 operation，并根据结果更新熔断器状态。
//
// operation 收到的 context 带有调用超时；即使 operation 不响应取消，
// Execute 也会在超时后返回 ErrCallTimeout，并将这次调用计为超时。
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.Timeout)
	defer cancel()

	start := cb.now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("circuit breaker %s: operation panicked: %v", cb.name, r)
			}
		}()
		done <- operation(callCtx)
	}()

	var (
		result error
		kind   outcome
	)
	select {
	case result = <-done:
		switch {
		case cb.config.IsSuccessful(result):
			kind = outcomeSuccess
		case errors.Is(result, context.DeadlineExceeded) && ctx.Err() == nil:
			kind = outcomeTimeout
		case errors.Is(result, context.Canceled) && ctx.Err() != nil:
			kind = outcomeIgnored
		default:
			kind = outcomeFailure
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// 调用方取消，不归咎于下游
			result = ctx.Err()
			kind = outcomeIgnored
		} else {
			result = fmt.Errorf("%w after %s", ErrCallTimeout, cb.config.Timeout)
			kind = outcomeTimeout
		}
	}

	cb.afterRequest(generation, kind, cb.now().Sub(start))
	return result
}

// ExecuteWithResult 执行给定的操作并返回结果。
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, operation func(ctx context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := operation(ctx)
		mu.Lock()
		out = v
		mu.Unlock()
		return err
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		if IsRejection(err) || errors.Is(err, ErrCallTimeout) {
			return zero, err
		}
		return out, err
	}
	return out, nil
}

// GetState 返回当前熔断器状态。
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(cb.now())
	return state
}

// GetCounts 返回滚动窗口内的统计计数。
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.currentState(now)
	return cb.window.sum(now)
}

// Stats 返回熔断器的统计快照。
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state, _ := cb.currentState(now)
	counts := cb.window.sum(now)
	stats := CircuitBreakerStats{
		Name:        cb.name,
		State:       state,
		Counts:      counts,
		FailureRate: counts.FailureRate(),
		WindowStart: cb.window.start(now),
		Latency:     cb.latency.percentiles(),
	}
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}

// GetMetrics 返回熔断器生命周期内的累计指标。
func (cb *CircuitBreaker) GetMetrics() *CircuitBreakerMetrics {
	return cb.metrics
}

// Reset 无论当前状态如何，强制转换到关闭状态并清空计数。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.toNewGeneration(cb.now(), StateClosed)
}

// beforeRequest 在请求执行前检查熔断器状态。
func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state, generation := cb.currentState(now)

	switch state {
	case StateOpen:
		cb.reject(now)
		return generation, ErrOpenState
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.reject(now)
			return generation, ErrTooManyRequests
		}
		cb.trialInFlight = true
	}

	cb.metrics.RecordRequest()
	if cb.prom != nil {
		cb.prom.RecordRequest(cb.name)
	}
	return generation, nil
}

func (cb *CircuitBreaker) reject(now time.Time) {
	cb.window.record(now, outcomeRejected)
	cb.metrics.RecordRejection()
	if cb.prom != nil {
		cb.prom.RecordRejection(cb.name)
	}
}

// afterRequest 在请求执行后更新熔断器状态。
func (cb *CircuitBreaker) afterRequest(generation uint64, kind outcome, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.latency.observe(elapsed)
	if cb.prom != nil {
		cb.prom.RecordDuration(cb.name, kind.label(), elapsed.Seconds())
	}

	state, currentGeneration := cb.currentState(now)
	// 代数不匹配说明状态已经改变，丢弃这次结果
	if generation != currentGeneration {
		return
	}

	switch kind {
	case outcomeSuccess:
		cb.onSuccess(state, now)
	case outcomeFailure, outcomeTimeout:
		cb.onFailure(state, now, kind)
	case outcomeIgnored:
		if state == StateHalfOpen {
			cb.trialInFlight = false
		}
	}
}

// onSuccess 处理成功的请求。
func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.metrics.RecordSuccess()
	if cb.prom != nil {
		cb.prom.RecordSuccess(cb.name)
	}

	switch state {
	case StateClosed:
		cb.window.record(now, outcomeSuccess)
	case StateHalfOpen:
		cb.toNewGeneration(now, StateClosed)
	}
}

// onFailure 处理失败或超时的请求。
func (cb *CircuitBreaker) onFailure(state State, now time.Time, kind outcome) {
	if kind == outcomeTimeout {
		cb.metrics.RecordTimeout()
	} else {
		cb.metrics.RecordFailure()
	}
	if cb.prom != nil {
		cb.prom.RecordFailure(cb.name)
	}

	switch state {
	case StateClosed:
		cb.window.record(now, kind)
		if cb.readyToTrip(cb.window.sum(now)) {
			cb.toNewGeneration(now, StateOpen)
		}
	case StateHalfOpen:
		cb.toNewGeneration(now, StateOpen)
	}
}

func (cb *CircuitBreaker) readyToTrip(counts Counts) bool {
	if counts.Requests < cb.config.VolumeThreshold {
		return false
	}
	return counts.FailureRate()*100 >= cb.config.ErrorThresholdPercentage
}

// currentState 返回当前状态和代数。
// 打开状态超过 ResetTimeout 后自动转换到半开状态。
func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	if cb.state == StateOpen && !now.Before(cb.expiry) {
		cb.toNewGeneration(now, StateHalfOpen)
	}
	return cb.state, cb.generation
}

// toNewGeneration 转换到新的状态和代数。
func (cb *CircuitBreaker) toNewGeneration(now time.Time, newState State) {
	from := cb.state

	cb.generation++
	cb.trialInFlight = false

	switch newState {
	case StateClosed:
		cb.window.reset(now)
		cb.openedAt = time.Time{}
		cb.expiry = time.Time{}
	case StateOpen:
		cb.openedAt = now
		cb.expiry = now.Add(cb.config.ResetTimeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}
	cb.state = newState

	if from != newState {
		cb.metrics.RecordStateChange(newState)
		if cb.prom != nil {
			cb.prom.RecordStateChange(cb.name, newState)
		}
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(cb.name, from, newState)
		}
	}
}

func (o outcome) label() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTimeout:
		return "timeout"
	case outcomeIgnored:
		return "cancelled"
	default:
		return "failure"
	}
}
