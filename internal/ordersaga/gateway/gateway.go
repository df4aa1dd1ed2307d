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

// Package gateway sends payment commands to the payment processor through
// the payment circuit breaker.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/pkg/messaging"
	"github.com/innovationmech/ordersaga/pkg/resilience"
	"github.com/innovationmech/ordersaga/pkg/tracing"
)

// DefaultTimeout bounds a single request/reply exchange.
const DefaultTimeout = 30 * time.Second

// Error is a charge that never produced a business answer. Reason is one of
// model.ReasonCircuitOpen, model.ReasonTimeout or model.ReasonTransportError.
type Error struct {
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Reason, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify maps a dispatch error to a failure reason.
func Classify(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Reason
	}
	switch {
	case resilience.IsRejection(err):
		return model.ReasonCircuitOpen
	case errors.Is(err, messaging.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, resilience.ErrCallTimeout):
		return model.ReasonTimeout
	default:
		return model.ReasonTransportError
	}
}

// Gateway is the payment processor client.
type Gateway struct {
	transport messaging.Transport
	breaker   *resilience.CircuitBreaker
	subject   string
	timeout   time.Duration
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSubject sets the request subject or queue.
func WithSubject(subject string) Option {
	return func(g *Gateway) { g.subject = subject }
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// New creates a Gateway. The breaker is shared with every other caller of
// the payment processor.
func New(transport messaging.Transport, breaker *resilience.CircuitBreaker, opts ...Option) *Gateway {
	g := &Gateway{
		transport: transport,
		breaker:   breaker,
		subject:   "payments.requests",
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/innovationmech/ordersaga/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Charge asks the processor to charge an order. A declined charge is
// returned as a FAILED result with a nil error; the breaker only counts
// transport failures against the processor.
func (g *Gateway) Charge(ctx context.Context, req model.ChargeRequest) (*model.PaymentResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.charge", trace.WithAttributes(
		attribute.String("order.id", req.OrderRef),
		attribute.Int("payment.attempt", req.Attempt),
	))

	result, err := g.send(ctx, model.NewChargeCommand(req))
	if err == nil {
		span.SetAttributes(attribute.String("payment.status", string(result.Status)))
		if !result.Succeeded() {
			g.logger.Info("charge declined",
				zap.String("order_id", req.OrderRef),
				zap.String("reason", result.Reason))
		}
	} else {
		g.logger.Warn("charge dispatch failed",
			zap.String("order_id", req.OrderRef),
			zap.Int("attempt", req.Attempt),
			zap.String("reason", Classify(err)),
			zap.Error(err))
	}
	tracing.EndSpan(span, err)
	return result, err
}

// Lookup fetches the latest payment result recorded for an order.
func (g *Gateway) Lookup(ctx context.Context, orderRef string) (*model.PaymentResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.lookup", trace.WithAttributes(attribute.String("order.id", orderRef)))
	result, err := g.send(ctx, model.NewLookupCommand(orderRef))
	tracing.EndSpan(span, err)
	return result, err
}

func (g *Gateway) send(ctx context.Context, cmd model.PaymentCommand) (*model.PaymentResult, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, &Error{Reason: model.ReasonTransportError, Cause: fmt.Errorf("encode command: %w", err)}
	}

	var result model.PaymentResult
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		reply, err := g.transport.Request(reqCtx, g.subject, payload)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(reply, &result); err != nil {
			return messaging.NewProcessingError(g.subject, fmt.Errorf("decode reply: %w", err))
		}
		switch result.Status {
		case model.PaymentStatusSuccess, model.PaymentStatusFailed:
		case model.PaymentStatusNotFound:
			if cmd.Kind != model.CommandLookup {
				return messaging.NewProcessingError(g.subject, fmt.Errorf("unexpected reply status %q", result.Status))
			}
		default:
			return messaging.NewProcessingError(g.subject, fmt.Errorf("unexpected reply status %q", result.Status))
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Reason: Classify(err), Cause: err}
	}
	return &result, nil
}
