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

// Package processor is the simulated payment processor that consumes
// payment commands from the transport.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/internal/ordersaga/repository"
	"github.com/innovationmech/ordersaga/pkg/tracing"
)

// Service charges orders and records every attempt. A charge for an order
// that already has a SUCCESS record returns that record unchanged.
type Service struct {
	payments   repository.PaymentRepository
	decider    Decider
	minLatency time.Duration
	maxLatency time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLatency makes every charge take a uniform duration in [lo, hi].
func WithLatency(lo, hi time.Duration) ServiceOption {
	return func(s *Service) {
		if lo < 0 || hi < lo {
			return
		}
		s.minLatency, s.maxLatency = lo, hi
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a processor service.
func NewService(payments repository.PaymentRepository, decider Decider, opts ...ServiceOption) *Service {
	s := &Service{
		payments: payments,
		decider:  decider,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/innovationmech/ordersaga/processor"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle dispatches a validated command by kind.
func (s *Service) Handle(ctx context.Context, cmd *model.PaymentCommand) (*model.PaymentResult, error) {
	switch cmd.Kind {
	case model.CommandCharge:
		return s.Charge(ctx, *cmd.Charge)
	case model.CommandLookup:
		return s.Lookup(ctx, cmd.Lookup.OrderRef)
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnknownCommand, cmd.Kind)
}

// Charge processes one charge attempt.
func (s *Service) Charge(ctx context.Context, req model.ChargeRequest) (result *model.PaymentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "processor.charge", trace.WithAttributes(
		attribute.String("order.id", req.OrderRef),
		attribute.Int("payment.attempt", req.Attempt),
	))
	defer func() { tracing.EndSpan(span, err) }()

	if existing, err := s.findSuccess(ctx, req.OrderRef); err != nil || existing != nil {
		return existing, err
	}

	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}

	decision := s.decider.Decide(ctx, req)
	payment := &model.Payment{
		ID:        uuid.NewString(),
		OrderRef:  req.OrderRef,
		Amount:    req.Amount,
		Status:    model.PaymentStatusFailed,
		CreatedAt: time.Now().UTC(),
	}
	if decision.Approved {
		payment.Status = model.PaymentStatusSuccess
		payment.TransactionRef = "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	} else {
		payment.FailureReason = decision.Reason
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicateSuccess) {
			existing, ferr := s.findSuccess(ctx, req.OrderRef)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("record payment for %s: %w", req.OrderRef, err)
	}

	s.logger.Info("charge processed",
		zap.String("order_id", req.OrderRef),
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)),
		zap.String("reason", payment.FailureReason),
		zap.Int("attempt", req.Attempt))
	return payment.Result(false), nil
}

func (s *Service) findSuccess(ctx context.Context, orderRef string) (*model.PaymentResult, error) {
	existing, err := s.payments.FindSuccessByOrderRef(ctx, orderRef)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check existing payment for %s: %w", orderRef, err)
	}
	s.logger.Info("duplicate charge, returning original payment",
		zap.String("order_id", orderRef), zap.String("payment_id", existing.ID))
	return existing.Result(true), nil
}

// Lookup returns the latest payment of an order, or a NOT_FOUND result.
func (s *Service) Lookup(ctx context.Context, orderRef string) (*model.PaymentResult, error) {
	payments, err := s.payments.FindByOrderRef(ctx, orderRef)
	if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, fmt.Errorf("lookup payments for %s: %w", orderRef, err)
	}
	if len(payments) == 0 {
		return &model.PaymentResult{OrderRef: orderRef, Status: model.PaymentStatusNotFound}, nil
	}
	return payments[0].Result(false), nil
}

func (s *Service) simulateLatency(ctx context.Context) error {
	if s.maxLatency <= 0 {
		return ctx.Err()
	}
	d := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(span) + 1))
		s.mu.Unlock()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
