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

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/pkg/messaging"
)

// WorkerMetrics counts settled deliveries.
type WorkerMetrics struct {
	Deliveries *prometheus.CounterVec
	InFlight   prometheus.Gauge
}

// NewWorkerMetrics creates the worker collectors and registers them with reg.
func NewWorkerMetrics(reg prometheus.Registerer, namespace string) *WorkerMetrics {
	if namespace == "" {
		namespace = "ordersaga"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &WorkerMetrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "deliveries_total",
			Help:      "Payment commands settled by the processor",
		}, []string{"kind", "outcome"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "in_flight",
			Help:      "Payment commands currently being processed",
		}),
	}
}

// Worker consumes payment commands from a queue and settles each delivery
// exactly once.
type Worker struct {
	transport   messaging.Transport
	service     *Service
	queue       string
	concurrency int
	logger      *zap.Logger
	metrics     *WorkerMetrics
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency bounds the number of deliveries handled at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkerMetrics sets the Prometheus recorder.
func WithWorkerMetrics(m *WorkerMetrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a worker for queue.
func NewWorker(transport messaging.Transport, service *Service, queue string, opts ...WorkerOption) *Worker {
	w := &Worker{
		transport:   transport,
		service:     service,
		queue:       queue,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes until ctx is cancelled or the delivery channel closes, then
// waits for in-flight deliveries.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.transport.Consume(ctx, w.queue)
	if err != nil {
		return err
	}
	w.logger.Info("payment processor consuming",
		zap.String("queue", w.queue), zap.Int("concurrency", w.concurrency))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Reject()
				return nil
			}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				w.handle(ctx, d)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, d messaging.Delivery) {
	if w.metrics != nil {
		w.metrics.InFlight.Inc()
		defer w.metrics.InFlight.Dec()
	}

	cmd, err := model.DecodeCommand(d.Body())
	if err != nil {
		w.logger.Warn("rejecting invalid payment command", zap.String("delivery_id", d.ID()), zap.Error(err))
		w.fail(ctx, d, cmd, "invalid payment command")
		return
	}

	result, err := w.service.Handle(ctx, cmd)
	if err != nil {
		w.logger.Error("payment command failed",
			zap.String("delivery_id", d.ID()),
			zap.String("order_id", cmd.OrderRef()),
			zap.Error(err))
		w.fail(ctx, d, cmd, "payment processing error")
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, d, cmd, "payment processing error")
		return
	}
	if err := d.Reply(ctx, payload); err != nil && !errors.Is(err, messaging.ErrNoReplyAddress) {
		w.logger.Warn("failed to reply to payment command", zap.String("order_id", cmd.OrderRef()), zap.Error(err))
	}
	if err := d.Ack(); err != nil {
		w.logger.Warn("failed to ack payment command", zap.String("delivery_id", d.ID()), zap.Error(err))
	}
	w.record(cmd, "ack")
}

// fail replies with a FAILED result when the command identifies an order,
// then rejects the delivery without requeue.
func (w *Worker) fail(ctx context.Context, d messaging.Delivery, cmd *model.PaymentCommand, reason string) {
	if cmd != nil && cmd.OrderRef() != "" {
		result := &model.PaymentResult{OrderRef: cmd.OrderRef(), Status: model.PaymentStatusFailed, Reason: reason}
		if payload, err := json.Marshal(result); err == nil {
			if err := d.Reply(ctx, payload); err != nil && !errors.Is(err, messaging.ErrNoReplyAddress) {
				w.logger.Warn("failed to reply to payment command", zap.String("order_id", cmd.OrderRef()), zap.Error(err))
			}
		}
	}
	if err := d.Reject(); err != nil {
		w.logger.Warn("failed to reject payment command", zap.String("delivery_id", d.ID()), zap.Error(err))
	}
	w.record(cmd, "reject")
}

func (w *Worker) record(cmd *model.PaymentCommand, outcome string) {
	if w.metrics == nil {
		return
	}
	kind := "unknown"
	if cmd != nil && cmd.Kind != "" {
		kind = string(cmd.Kind)
	}
	w.metrics.Deliveries.WithLabelValues(kind, outcome).Inc()
}
