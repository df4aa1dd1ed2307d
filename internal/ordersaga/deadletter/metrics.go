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

package deadletter

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dead-letter Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	Submitted    *prometheus.CounterVec
	Scheduled    prometheus.Counter
	Permanent    *prometheus.CounterVec
	Redeliveries *prometheus.CounterVec
	Resolved     prometheus.Counter
	Envelopes    *prometheus.GaugeVec
}

// NewMetrics creates the dead-letter collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "ordersaga"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const subsystem = "deadletter"
	factory := promauto.With(reg)

	return &Metrics{
		Submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "submitted_total",
			Help:      "Failed dispatches submitted to the dead-letter router",
		}, []string{"reason"}),
		Scheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduled_total",
			Help:      "Envelopes scheduled for redelivery",
		}),
		Permanent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "permanent_total",
			Help:      "Envelopes marked as permanent failures",
		}, []string{"rule"}),
		Redeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redeliveries_total",
			Help:      "Redelivery attempts by trigger",
		}, []string{"trigger"}),
		Resolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolved_total",
			Help:      "Envelopes resolved after a successful payment",
		}),
		Envelopes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "envelopes",
			Help:      "Envelopes currently held, by state",
		}, []string{"state"}),
	}
}

func (m *Metrics) recordSubmit(reason string) {
	if m == nil {
		return
	}
	m.Submitted.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordVerdict(v Verdict) {
	if m == nil {
		return
	}
	if v.Permanent() {
		m.Permanent.WithLabelValues(permanentRule(v.Reason)).Inc()
		return
	}
	m.Scheduled.Inc()
}

func (m *Metrics) recordRedelivery(trigger string) {
	if m == nil {
		return
	}
	m.Redeliveries.WithLabelValues(trigger).Inc()
}

func (m *Metrics) recordResolved() {
	if m == nil {
		return
	}
	m.Resolved.Inc()
}

func (m *Metrics) observe(stats Stats) {
	if m == nil {
		return
	}
	for st, n := range stats.ByState {
		m.Envelopes.WithLabelValues(string(st)).Set(float64(n))
	}
}

// permanentRule strips the business reason so the label stays low-cardinality.
func permanentRule(reason string) string {
	for _, rule := range []string{PermanentMaxAttempts, PermanentMaxAge, PermanentNonRetryable} {
		if strings.HasPrefix(reason, rule) {
			return rule
		}
	}
	return "other"
}
