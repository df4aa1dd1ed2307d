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

// Package saga coordinates the order and payment saga: stock reservation,
// payment dispatch through the payment circuit breaker, compensation and
// dead-letter handling.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/deadletter"
	"github.com/innovationmech/ordersaga/internal/ordersaga/events"
	"github.com/innovationmech/ordersaga/internal/ordersaga/gateway"
	"github.com/innovationmech/ordersaga/internal/ordersaga/inventory"
	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/internal/ordersaga/repository"
	"github.com/innovationmech/ordersaga/pkg/resilience"
	"github.com/innovationmech/ordersaga/pkg/tracing"
)

const (
	reasonInternalError = "internal-error"

	// settleTimeout bounds compensation and bookkeeping once they are
	// detached from the caller.
	settleTimeout = 10 * time.Second
)

var validate = validator.New()

// CreateOrderRequest is the input of CreateOrder.
type CreateOrderRequest struct {
	ProductCode   string `json:"product_code" validate:"required"`
	Quantity      int    `json:"quantity" validate:"gte=1"`
	CustomerID    string `json:"customer_id" validate:"required"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
}

// PaymentGateway dispatches payment commands. *gateway.Gateway implements it.
type PaymentGateway interface {
	Charge(ctx context.Context, req model.ChargeRequest) (*model.PaymentResult, error)
	Lookup(ctx context.Context, orderRef string) (*model.PaymentResult, error)
}

// ErrorReporter receives unexpected errors. *monitoring.SentryManager
// implements it.
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string, extra map[string]interface{})
}

// Dependencies are the collaborators a Coordinator needs.
type Dependencies struct {
	Orders      repository.OrderRepository
	Catalog     inventory.Catalog
	Ledger      inventory.Ledger
	Payments    PaymentGateway
	Breakers    *resilience.Registry
	DeadLetters *deadletter.Router
	Events      events.Publisher
}

// Coordinator runs the order saga. Every lifecycle step of one order is
// serialized by a per-order lock.
type Coordinator struct {
	orders      repository.OrderRepository
	catalog     inventory.Catalog
	ledger      inventory.Ledger
	payments    PaymentGateway
	breakers    *resilience.Registry
	deadLetters *deadletter.Router
	events      events.Publisher

	locks    *KeyedMutex
	logger   *zap.Logger
	tracer   trace.Tracer
	reporter ErrorReporter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithErrorReporter reports internal errors, typically to Sentry.
func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// NewCoordinator wires a Coordinator and installs it as the dead-letter
// router's redeliverer.
func NewCoordinator(deps Dependencies, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("saga: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("saga: catalog is required")
	case deps.Ledger == nil:
		return nil, errors.New("saga: stock ledger is required")
	case deps.Payments == nil:
		return nil, errors.New("saga: payment gateway is required")
	case deps.Breakers == nil:
		return nil, errors.New("saga: breaker registry is required")
	case deps.DeadLetters == nil:
		return nil, errors.New("saga: dead-letter router is required")
	}
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}

	c := &Coordinator{
		orders:      deps.Orders,
		catalog:     deps.Catalog,
		ledger:      deps.Ledger,
		payments:    deps.Payments,
		breakers:    deps.Breakers,
		deadLetters: deps.DeadLetters,
		events:      deps.Events,
		locks:       NewKeyedMutex(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("github.com/innovationmech/ordersaga/saga"),
	}
	for _, opt := range opts {
		opt(c)
	}
	deps.DeadLetters.SetRedeliverer(c.Redeliver)
	return c, nil
}

// CreateOrder validates the request, reserves stock and charges the
// customer. Payment failures are compensated and reported through the
// returned order's status with a nil error.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (order *model.Order, err error) {
	ctx, span := c.tracer.Start(ctx, "saga.create_order", trace.WithAttributes(
		attribute.String("product.code", req.ProductCode),
		attribute.Int("order.quantity", req.Quantity),
	))
	defer func() { tracing.EndSpan(span, err) }()

	if err := validate.Struct(req); err != nil {
		return nil, NewValidationError("invalid order request", err)
	}

	product, err := c.catalog.GetProduct(ctx, req.ProductCode)
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, NewNotFoundError("product", req.ProductCode, err)
		}
		return nil, c.internal("", "load product", err)
	}
	if err := c.checkStock(ctx, product, req.Quantity); err != nil {
		return nil, err
	}

	order = model.NewOrder(product, req.Quantity, req.CustomerID, req.CustomerEmail)
	span.SetAttributes(attribute.String("order.id", order.ID))
	unlock := c.locks.Lock(order.ID)
	defer unlock()

	if err := c.orders.Create(ctx, order); err != nil {
		return nil, c.internal(order.ID, "persist order", err)
	}
	c.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("product_code", order.ProductCode),
		zap.Int("quantity", order.Quantity),
		zap.String("total", order.TotalAmount.StringFixed(2)))
	c.publish(ctx, events.OrderCreated, order)

	if err := c.ledger.Reserve(ctx, order.ProductCode, order.Quantity); err != nil {
		return nil, c.abortReservation(ctx, order, err)
	}
	if err := c.moveToProcessing(ctx, order); err != nil {
		return nil, err
	}
	return c.dispatch(ctx, order, 1)
}

// RetryPayment re-runs the payment step of a PAYMENT_FAILED order.
func (c *Coordinator) RetryPayment(ctx context.Context, orderID string) (order *model.Order, err error) {
	ctx, span := c.tracer.Start(ctx, "saga.retry_payment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { tracing.EndSpan(span, err) }()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err = c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPaymentFailed {
		return nil, NewInvalidStateTransitionError(order.ID, order.Status, model.OrderStatusPaymentProcessing)
	}
	if err := c.reserveForRetry(ctx, order); err != nil {
		return nil, err
	}
	if err := c.moveToProcessing(ctx, order); err != nil {
		return nil, err
	}

	attempt := 1
	if env, err := c.deadLetters.Get(ctx, order.ID); err == nil {
		attempt = env.AttemptCount + 1
	}
	c.logger.Info("retrying payment", zap.String("order_id", order.ID), zap.Int("attempt", attempt))
	return c.dispatch(ctx, order, attempt)
}

// Redeliver is the dead-letter redelivery path. It runs under the order
// lock and expects env to be IN_FLIGHT.
func (c *Coordinator) Redeliver(ctx context.Context, env *deadletter.Envelope) (err error) {
	ctx, span := c.tracer.Start(ctx, "saga.redeliver", trace.WithAttributes(
		attribute.String("order.id", env.OrderID),
		attribute.Int("payment.attempt", env.Request.Attempt),
	))
	defer func() { tracing.EndSpan(span, err) }()

	unlock := c.locks.Lock(env.OrderID)
	defer unlock()

	current, err := c.deadLetters.Get(ctx, env.OrderID)
	if err != nil {
		return err
	}
	if current.State != deadletter.StateInFlight {
		c.logger.Info("dead letter handled concurrently, skipping redelivery",
			zap.String("order_id", env.OrderID), zap.String("state", string(current.State)))
		return deadletter.ErrStateConflict
	}

	order, err := c.loadOrder(ctx, env.OrderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case model.OrderStatusPaymentSuccess:
		return c.deadLetters.Resolve(ctx, order.ID)
	case model.OrderStatusPaymentProcessing:
		paid, err := c.reconcile(ctx, order, current)
		if err != nil || paid {
			return err
		}
	case model.OrderStatusPaymentFailed, model.OrderStatusPaymentQueuedDLQ:
	default:
		return NewInvalidStateTransitionError(order.ID, order.Status, model.OrderStatusPaymentProcessing)
	}

	if err := c.ledger.Reserve(ctx, order.ProductCode, order.Quantity); err != nil {
		if !errors.Is(err, inventory.ErrInsufficientStock) {
			return c.internal(order.ID, "reserve stock for redelivery", err)
		}
		c.logger.Warn("redelivery found no stock", zap.String("order_id", order.ID))
		c.submitFailure(ctx, order, env.Request, model.ReasonInsufficientStock)
		return nil
	}
	if err := c.moveToProcessing(ctx, order); err != nil {
		return err
	}
	_, err = c.dispatch(ctx, order, env.Request.Attempt)
	return err
}

// reconcile settles an order that an earlier attempt left in
// PAYMENT_PROCESSING, either because persisting its outcome failed or because
// the process stopped mid-dispatch. A failure recorded after the order last
// entered processing means the failure path already released its stock. The
// processor's latest record decides the outcome; paid reports a success.
func (c *Coordinator) reconcile(ctx context.Context, order *model.Order, env *deadletter.Envelope) (paid bool, err error) {
	released := env.LastAttemptAt.After(order.UpdatedAt)
	c.logger.Warn("reconciling order left in payment processing",
		zap.String("order_id", order.ID),
		zap.Bool("stock_released", released))

	result, err := c.payments.Lookup(ctx, order.ID)
	if err != nil {
		return false, fmt.Errorf("reconcile order %s: %w", order.ID, err)
	}

	if result.Succeeded() {
		ref := result.TransactionRef
		if ref == "" {
			ref = result.PaymentID
		}
		if _, err := c.settleSuccess(ctx, order, ref, true); err != nil {
			return false, err
		}
		if released {
			sctx, cancel := settleContext(ctx)
			defer cancel()
			if err := c.ledger.Reserve(sctx, order.ProductCode, order.Quantity); err != nil {
				c.logger.Error("failed to take stock for reconciled payment",
					zap.String("order_id", order.ID),
					zap.String("product_code", order.ProductCode),
					zap.Int("quantity", order.Quantity),
					zap.Error(err))
				c.report(order.ID, fmt.Errorf("take stock for reconciled payment: %w", err))
			}
		}
		return true, nil
	}

	reason := env.Reason
	if reason == "" {
		reason = "payment declined"
	}
	order.MarkFailed(reason)
	sctx, cancel := settleContext(ctx)
	defer cancel()
	if err := c.orders.Update(sctx, order); err != nil {
		return false, c.internal(order.ID, "persist reconciled payment failure", err)
	}
	if !released {
		c.release(sctx, order)
	}
	return false, nil
}

// dispatch charges a PAYMENT_PROCESSING order whose stock is reserved and
// settles it as succeeded or failed.
func (c *Coordinator) dispatch(ctx context.Context, order *model.Order, attempt int) (*model.Order, error) {
	req := model.ChargeRequest{
		OrderRef:      order.ID,
		Amount:        order.TotalAmount,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		Attempt:       attempt,
	}

	result, err := c.payments.Charge(ctx, req)
	if err != nil {
		reason := gateway.Classify(err)
		c.logger.Warn("payment dispatch failed",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
			zap.Error(err))
		return c.fail(ctx, order, req, reason)
	}
	if !result.Succeeded() {
		reason := result.Reason
		if reason == "" {
			reason = "payment declined"
		}
		c.logger.Info("payment declined",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.String("reason", reason))
		return c.fail(ctx, order, req, reason)
	}

	ref := result.TransactionRef
	if ref == "" {
		ref = result.PaymentID
	}
	return c.settleSuccess(ctx, order, ref, result.Duplicate)
}

// settleSuccess persists PAYMENT_SUCCESS and resolves any dead letter. The
// charge has been taken, so caller cancellation no longer applies.
func (c *Coordinator) settleSuccess(ctx context.Context, order *model.Order, ref string, duplicate bool) (*model.Order, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	order.MarkSucceeded(ref)
	if err := c.orders.Update(ctx, order); err != nil {
		return nil, c.internal(order.ID, "persist successful payment", err)
	}
	if err := c.deadLetters.Resolve(ctx, order.ID); err != nil {
		c.logger.Error("failed to resolve dead letter", zap.String("order_id", order.ID), zap.Error(err))
	}
	c.logger.Info("payment succeeded",
		zap.String("order_id", order.ID),
		zap.String("payment_ref", ref),
		zap.Bool("duplicate", duplicate))
	c.publish(ctx, events.PaymentSucceeded, order)
	return order.Clone(), nil
}

// fail runs the failure path: release stock, persist PAYMENT_FAILED, then
// hand the request to the dead-letter router. Errors after compensation are
// logged and never change the outcome.
func (c *Coordinator) fail(ctx context.Context, order *model.Order, req model.ChargeRequest, reason string) (*model.Order, error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := c.ledger.Release(ctx, order.ProductCode, order.Quantity); err != nil {
		c.logger.Error("failed to release stock",
			zap.String("order_id", order.ID),
			zap.String("product_code", order.ProductCode),
			zap.Int("quantity", order.Quantity),
			zap.Error(err))
		c.report(order.ID, fmt.Errorf("release stock: %w", err))
	} else {
		c.publish(ctx, events.StockCompensated, order)
	}

	order.MarkFailed(reason)
	if err := c.orders.Update(ctx, order); err != nil {
		c.logger.Error("failed to persist payment failure", zap.String("order_id", order.ID), zap.Error(err))
		c.report(order.ID, fmt.Errorf("persist payment failure: %w", err))
	}
	c.submitFailure(ctx, order, req, reason)
	return order.Clone(), nil
}

// submitFailure records a failed attempt with the router and moves the
// order to PAYMENT_QUEUED_DLQ when the verdict is permanent.
func (c *Coordinator) submitFailure(ctx context.Context, order *model.Order, req model.ChargeRequest, reason string) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	verdict, err := c.deadLetters.Submit(ctx, req, reason)
	if err != nil {
		c.logger.Error("failed to submit dead letter", zap.String("order_id", order.ID), zap.Error(err))
		c.report(order.ID, fmt.Errorf("submit dead letter: %w", err))
		c.publish(ctx, events.PaymentFailed, order)
		return
	}

	if verdict.Permanent() && order.Status.CanTransitionTo(model.OrderStatusPaymentQueuedDLQ) {
		order.Status = model.OrderStatusPaymentQueuedDLQ
		if err := c.orders.Update(ctx, order); err != nil {
			c.logger.Error("failed to persist dead-letter status", zap.String("order_id", order.ID), zap.Error(err))
		}
		c.publish(ctx, events.DeadLettered, order)
		return
	}
	c.publish(ctx, events.PaymentFailed, order)
}

// abortReservation handles a reservation that failed after the order was
// persisted. Nothing was reserved, so nothing is compensated.
func (c *Coordinator) abortReservation(ctx context.Context, order *model.Order, cause error) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	reason := model.ReasonInsufficientStock
	var result error
	if errors.Is(cause, inventory.ErrInsufficientStock) {
		e := NewInsufficientStockError(order.ProductCode, order.Quantity, 0, cause)
		e.OrderID = order.ID
		result = e
	} else {
		reason = reasonInternalError
		result = c.internal(order.ID, "reserve stock", cause)
	}

	order.MarkFailed(reason)
	if err := c.orders.Update(ctx, order); err != nil {
		c.logger.Error("failed to persist reservation failure", zap.String("order_id", order.ID), zap.Error(err))
	}
	c.publish(ctx, events.PaymentFailed, order)
	return result
}

func (c *Coordinator) checkStock(ctx context.Context, product *model.Product, qty int) error {
	if !product.Active {
		return NewInsufficientStockError(product.Code, qty, 0, errors.New("product is inactive"))
	}
	available, err := c.ledger.Available(ctx, product.Code)
	if err != nil {
		return c.internal("", "read stock", err)
	}
	if available < qty {
		return NewInsufficientStockError(product.Code, qty, available, inventory.ErrInsufficientStock)
	}
	return nil
}

func (c *Coordinator) reserveForRetry(ctx context.Context, order *model.Order) error {
	product, err := c.catalog.GetProduct(ctx, order.ProductCode)
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return NewNotFoundError("product", order.ProductCode, err)
		}
		return c.internal(order.ID, "load product", err)
	}
	if err := c.checkStock(ctx, product, order.Quantity); err != nil {
		return err
	}
	if err := c.ledger.Reserve(ctx, order.ProductCode, order.Quantity); err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return NewInsufficientStockError(order.ProductCode, order.Quantity, 0, err)
		}
		return c.internal(order.ID, "reserve stock", err)
	}
	return nil
}

// moveToProcessing persists PAYMENT_PROCESSING. Stock is already reserved,
// so a failure releases it before returning.
func (c *Coordinator) moveToProcessing(ctx context.Context, order *model.Order) error {
	if !order.Status.CanTransitionTo(model.OrderStatusPaymentProcessing) {
		c.release(ctx, order)
		return NewInvalidStateTransitionError(order.ID, order.Status, model.OrderStatusPaymentProcessing)
	}
	prev := order.Clone()
	order.Status = model.OrderStatusPaymentProcessing
	order.FailureReason = ""
	if err := c.orders.Update(ctx, order); err != nil {
		*order = *prev
		c.release(ctx, order)
		return c.internal(order.ID, "persist payment processing", err)
	}
	return nil
}

func (c *Coordinator) release(ctx context.Context, order *model.Order) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := c.ledger.Release(ctx, order.ProductCode, order.Quantity); err != nil {
		c.logger.Error("failed to release stock", zap.String("order_id", order.ID), zap.Error(err))
		c.report(order.ID, fmt.Errorf("release stock: %w", err))
	}
}

// settleContext detaches ctx from caller cancellation and bounds it by
// settleTimeout. Values such as the active span are kept.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (c *Coordinator) loadOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, NewNotFoundError("order", orderID, err)
		}
		return nil, c.internal(orderID, "load order", err)
	}
	return order, nil
}

// GetOrder returns an order by id.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return c.loadOrder(ctx, orderID)
}

// ListOrders returns orders, newest first.
func (c *Coordinator) ListOrders(ctx context.Context, opts repository.ListOptions) ([]*model.Order, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown order status %q", opts.Status), nil)
	}
	orders, err := c.orders.List(ctx, opts)
	if err != nil {
		return nil, c.internal("", "list orders", err)
	}
	return orders, nil
}

// CircuitBreakerStats returns a snapshot of a named breaker.
func (c *Coordinator) CircuitBreakerStats(name string) (resilience.CircuitBreakerStats, error) {
	stats, err := c.breakers.Stats(name)
	if err != nil {
		return resilience.CircuitBreakerStats{}, NewNotFoundError("circuit breaker", name, err)
	}
	return stats, nil
}

// ResetCircuitBreaker forces a named breaker closed.
func (c *Coordinator) ResetCircuitBreaker(name string) error {
	if err := c.breakers.Reset(name); err != nil {
		return NewNotFoundError("circuit breaker", name, err)
	}
	c.logger.Warn("circuit breaker reset by operator", zap.String("breaker", name))
	return nil
}

// DeadLetterStats counts dead-letter envelopes by state.
func (c *Coordinator) DeadLetterStats(ctx context.Context) (deadletter.Stats, error) {
	stats, err := c.deadLetters.Stats(ctx)
	if err != nil {
		return deadletter.Stats{}, c.internal("", "dead-letter stats", err)
	}
	return stats, nil
}

// GetDeadLetter returns the envelope of an order.
func (c *Coordinator) GetDeadLetter(ctx context.Context, orderID string) (*deadletter.Envelope, error) {
	env, err := c.deadLetters.Get(ctx, orderID)
	if err != nil {
		return nil, c.deadLetterError(orderID, err)
	}
	return env, nil
}

// ListDeadLetters returns envelopes in state, or all of them.
func (c *Coordinator) ListDeadLetters(ctx context.Context, state deadletter.State) ([]*deadletter.Envelope, error) {
	if state != "" && !state.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown dead-letter state %q", state), nil)
	}
	envs, err := c.deadLetters.List(ctx, state)
	if err != nil {
		return nil, c.internal("", "list dead letters", err)
	}
	return envs, nil
}

// ReprocessDeadLetter redelivers a dead-lettered order immediately and
// returns the order afterwards.
func (c *Coordinator) ReprocessDeadLetter(ctx context.Context, orderID string) (order *model.Order, err error) {
	ctx, span := c.tracer.Start(ctx, "saga.reprocess_dead_letter", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { tracing.EndSpan(span, err) }()

	c.logger.Info("manual dead-letter reprocess requested", zap.String("order_id", orderID))
	if err := c.deadLetters.Reprocess(ctx, orderID); err != nil {
		return nil, c.deadLetterError(orderID, err)
	}
	return c.loadOrder(ctx, orderID)
}

func (c *Coordinator) deadLetterError(orderID string, err error) error {
	var sagaErr *Error
	switch {
	case errors.As(err, &sagaErr):
		return sagaErr
	case errors.Is(err, deadletter.ErrNotFound):
		return NewNotFoundError("dead letter", orderID, err)
	case errors.Is(err, deadletter.ErrReprocessInProgress):
		return NewConflictError(orderID, "reprocess already in progress", err)
	case errors.Is(err, deadletter.ErrAlreadyProcessed):
		return NewConflictError(orderID, "dead letter already processed", err)
	case errors.Is(err, deadletter.ErrStateConflict):
		return NewConflictError(orderID, "dead letter changed concurrently", err)
	}
	return c.internal(orderID, "dead letter", err)
}

// LookupPayment asks the processor for the latest payment of an order.
func (c *Coordinator) LookupPayment(ctx context.Context, orderRef string) (*model.PaymentResult, error) {
	if orderRef == "" {
		return nil, NewValidationError("order reference is required", nil)
	}
	result, err := c.payments.Lookup(ctx, orderRef)
	if err != nil {
		kind := KindTransport
		if gateway.Classify(err) == model.ReasonCircuitOpen {
			kind = KindCircuitOpen
		}
		return nil, &Error{Kind: kind, Message: "payment lookup failed", OrderID: orderRef, Cause: err}
	}
	if result.Status == model.PaymentStatusNotFound {
		return nil, NewNotFoundError("payment", orderRef, nil)
	}
	return result, nil
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, order *model.Order) {
	if err := c.events.Publish(ctx, events.New(t, order)); err != nil {
		c.logger.Warn("failed to publish order event",
			zap.String("order_id", order.ID),
			zap.String("event", string(t)),
			zap.Error(err))
	}
}

func (c *Coordinator) internal(orderID, message string, cause error) *Error {
	c.logger.Error(message, zap.String("order_id", orderID), zap.Error(cause))
	c.report(orderID, fmt.Errorf("%s: %w", message, cause))
	return NewInternalError(orderID, message, cause)
}

func (c *Coordinator) report(orderID string, err error) {
	if c.reporter == nil {
		return
	}
	c.reporter.CaptureError(err, map[string]string{"component": "saga"}, map[string]interface{}{"order_id": orderID})
}
