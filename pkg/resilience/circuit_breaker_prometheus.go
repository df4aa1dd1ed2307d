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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CircuitBreakerPrometheusMetrics 包含熔断器的 Prometheus 指标。
type CircuitBreakerPrometheusMetrics struct {
	Requests        *prometheus.CounterVec
	Successes       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	StateChanges    *prometheus.CounterVec
	State           *prometheus.GaugeVec
	RequestDuration *prometheus.HistogramVec
}

// NewCircuitBreakerPrometheusMetrics 创建熔断器 Prometheus 指标并注册到 reg。
// reg 为 nil 时使用默认注册表。
func NewCircuitBreakerPrometheusMetrics(reg prometheus.Registerer, namespace string) *CircuitBreakerPrometheusMetrics {
	if namespace == "" {
		namespace = "ordersaga"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const subsystem = "circuit_breaker"
	factory := promauto.With(reg)

	return &CircuitBreakerPrometheusMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Calls admitted by the circuit breaker",
		}, []string{"name"}),

		Successes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "successes_total",
			Help:      "Calls that completed successfully",
		}, []string{"name"}),

		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Calls that failed or timed out",
		}, []string{"name"}),

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejections_total",
			Help:      "Calls rejected without reaching the dependency",
		}, []string{"name"}),

		StateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_changes_total",
			Help:      "State transitions by target state",
		}, []string{"name", "state"}),

		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of calls made through the circuit breaker",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "result"}),
	}
}

// RecordRequest 记录一次请求。
func (p *CircuitBreakerPrometheusMetrics) RecordRequest(name string) {
	p.Requests.WithLabelValues(name).Inc()
}

// RecordSuccess 记录一次成功。
func (p *CircuitBreakerPrometheusMetrics) RecordSuccess(name string) {
	p.Successes.WithLabelValues(name).Inc()
}

// RecordFailure 记录一次失败。
func (p *CircuitBreakerPrometheusMetrics) RecordFailure(name string) {
	p.Failures.WithLabelValues(name).Inc()
}

// RecordRejection 记录一次拒绝。
func (p *CircuitBreakerPrometheusMetrics) RecordRejection(name string) {
	p.Rejections.WithLabelValues(name).Inc()
}

// RecordStateChange 记录状态变更并更新状态 gauge。
func (p *CircuitBreakerPrometheusMetrics) RecordStateChange(name string, to State) {
	p.StateChanges.WithLabelValues(name, to.String()).Inc()
	p.State.WithLabelValues(name).Set(float64(to))
}

// RecordDuration 记录请求持续时间。
func (p *CircuitBreakerPrometheusMetrics) RecordDuration(name string, result string, seconds float64) {
	p.RequestDuration.WithLabelValues(name, result).Observe(seconds)
}
