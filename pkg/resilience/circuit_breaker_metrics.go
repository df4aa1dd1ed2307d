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
	"sync/atomic"
)

// CircuitBreakerMetrics 记录熔断器整个生命周期的累计计数，不随窗口滚动或 Reset 清零。
type CircuitBreakerMetrics struct {
	requests   atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	timeouts   atomic.Int64
	rejections atomic.Int64

	toClosed   atomic.Int64
	toOpen     atomic.Int64
	toHalfOpen atomic.Int64
}

// MetricsSnapshot 是 CircuitBreakerMetrics 的只读快照。
type MetricsSnapshot struct {
	Requests         int64 `json:"requests"`
	Successes        int64 `json:"successes"`
	Failures         int64 `json:"failures"`
	Timeouts         int64 `json:"timeouts"`
	Rejections       int64 `json:"rejections"`
	OpenTransitions  int64 `json:"open_transitions"`
	CloseTransitions int64 `json:"close_transitions"`
	HalfOpenTrials   int64 `json:"half_open_transitions"`
}

// NewCircuitBreakerMetrics 创建新的度量指标实例。
func NewCircuitBreakerMetrics() *CircuitBreakerMetrics {
	return &CircuitBreakerMetrics{}
}

// RecordRequest 记录一次放行的调用。
func (m *CircuitBreakerMetrics) RecordRequest() { m.requests.Add(1) }

// RecordSuccess 记录一次成功。
func (m *CircuitBreakerMetrics) RecordSuccess() { m.successes.Add(1) }

// RecordFailure 记录一次失败。
func (m *CircuitBreakerMetrics) RecordFailure() { m.failures.Add(1) }

// RecordTimeout 记录一次超时。
func (m *CircuitBreakerMetrics) RecordTimeout() { m.timeouts.Add(1) }

// RecordRejection 记录一次拒绝。
func (m *CircuitBreakerMetrics) RecordRejection() { m.rejections.Add(1) }

// RecordStateChange 记录状态变更。
func (m *CircuitBreakerMetrics) RecordStateChange(to State) {
	switch to {
	case StateClosed:
		m.toClosed.Add(1)
	case StateOpen:
		m.toOpen.Add(1)
	case StateHalfOpen:
		m.toHalfOpen.Add(1)
	}
}

// Snapshot 返回当前累计值。
func (m *CircuitBreakerMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:         m.requests.Load(),
		Successes:        m.successes.Load(),
		Failures:         m.failures.Load(),
		Timeouts:         m.timeouts.Load(),
		Rejections:       m.rejections.Load(),
		OpenTransitions:  m.toOpen.Load(),
		CloseTransitions: m.toClosed.Load(),
		HalfOpenTrials:   m.toHalfOpen.Load(),
	}
}
