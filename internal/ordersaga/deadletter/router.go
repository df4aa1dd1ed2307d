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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/pkg/resilience"
)

// Redeliverer re-dispatches a claimed envelope. The envelope is IN_FLIGHT
// while it runs; a payment failure must be reported back through Submit and
// a success through Resolve.
type Redeliverer func(ctx context.Context, env *Envelope) error

// DefaultConcurrency is the number of redeliveries Run handles at once.
const DefaultConcurrency = 4

type ticket struct {
	OrderID string
	Attempt int
}

// Router evaluates failed dispatches and redelivers the eligible ones. One
// scheduler goroutine pops due tickets and hands them to a bounded set of
// delivery goroutines.
type Router struct {
	store       Store
	policy      Policy
	backoff     *resilience.Calculator
	queue       *resilience.DelayQueue[ticket]
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
	concurrency int

	mu        sync.RWMutex
	redeliver Redeliverer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the Prometheus recorder.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithConcurrency bounds the number of redeliveries running at once.
func WithConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides time.Now for policy evaluation.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a Router. backoff decides how long an eligible envelope
// waits before its next attempt.
func NewRouter(store Store, policy Policy, backoff resilience.BackoffConfig, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, errors.New("deadletter: store is required")
	}
	if policy.MaxAttempts <= 0 {
		return nil, fmt.Errorf("deadletter: max attempts must be positive, got %d", policy.MaxAttempts)
	}
	if err := backoff.Validate(); err != nil {
		return nil, fmt.Errorf("deadletter: invalid backoff: %w", err)
	}

	r := &Router{
		store:       store,
		policy:      policy,
		backoff:     resilience.NewCalculator(backoff),
		queue:       resilience.NewDelayQueue[ticket](),
		logger:      zap.NewNop(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetRedeliverer installs the redelivery callback.
func (r *Router) SetRedeliverer(fn Redeliverer) {
	r.mu.Lock()
	r.redeliver = fn
	r.mu.Unlock()
}

// Submit records a failed dispatch and evaluates it immediately.
func (r *Router) Submit(ctx context.Context, req model.ChargeRequest, reason string) (Verdict, error) {
	if req.OrderRef == "" {
		return Verdict{}, errors.New("deadletter: order reference is required")
	}
	now := r.now()

	env, err := r.store.Update(ctx, req.OrderRef, func(cur *Envelope) (*Envelope, error) {
		if cur == nil {
			cur = &Envelope{OrderID: req.OrderRef, FirstAttemptAt: now}
		}
		cur.AttemptCount++
		cur.Request = req
		cur.Reason = reason
		cur.LastAttemptAt = now

		if ok, why := r.policy.Evaluate(cur, now); ok {
			cur.State = StateScheduled
			cur.NextAttemptAt = now.Add(r.backoff.Delay(cur.AttemptCount))
			cur.PermanentReason = ""
		} else {
			cur.State = StatePermanent
			cur.NextAttemptAt = time.Time{}
			cur.PermanentReason = why
		}
		return cur, nil
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("submit dead letter %s: %w", req.OrderRef, err)
	}

	verdict := Verdict{AttemptCount: env.AttemptCount}
	if env.State == StateScheduled {
		verdict.Decision = DecisionScheduled
		verdict.NextAttemptAt = env.NextAttemptAt
		r.queue.Schedule(env.OrderID, env.NextAttemptAt, ticket{OrderID: env.OrderID, Attempt: env.AttemptCount + 1})
		r.logger.Info("payment retry scheduled",
			zap.String("order_id", env.OrderID),
			zap.String("reason", reason),
			zap.Int("attempt_count", env.AttemptCount),
			zap.Time("next_attempt_at", env.NextAttemptAt))
	} else {
		verdict.Decision = DecisionPermanent
		verdict.Reason = env.PermanentReason
		r.queue.Cancel(env.OrderID)
		r.logger.Warn("payment failure is permanent",
			zap.String("order_id", env.OrderID),
			zap.String("reason", reason),
			zap.Int("attempt_count", env.AttemptCount),
			zap.String("verdict", env.PermanentReason))
	}

	r.metrics.recordSubmit(reason)
	r.metrics.recordVerdict(verdict)
	r.refresh(ctx)
	return verdict, nil
}

// Resolve marks the envelope of a paid order as processed. It is a no-op
// when the order never failed.
func (r *Router) Resolve(ctx context.Context, orderID string) error {
	_, err := r.store.Update(ctx, orderID, func(cur *Envelope) (*Envelope, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		cur.State = StateProcessed
		cur.NextAttemptAt = time.Time{}
		return cur, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve dead letter %s: %w", orderID, err)
	}

	r.queue.Cancel(orderID)
	r.metrics.recordResolved()
	r.refresh(ctx)
	r.logger.Info("dead letter resolved", zap.String("order_id", orderID))
	return nil
}

// Reprocess claims the envelope and redelivers it synchronously. It fails
// with ErrReprocessInProgress while another redelivery holds the envelope.
func (r *Router) Reprocess(ctx context.Context, orderID string) error {
	var prev State
	env, err := r.store.Update(ctx, orderID, func(cur *Envelope) (*Envelope, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		switch cur.State {
		case StateInFlight:
			return nil, ErrReprocessInProgress
		case StateProcessed:
			return nil, ErrAlreadyProcessed
		}
		prev = cur.State
		cur.State = StateInFlight
		cur.NextAttemptAt = time.Time{}
		cur.Request.Attempt = cur.AttemptCount + 1
		return cur, nil
	})
	if err != nil {
		return err
	}

	r.queue.Cancel(orderID)
	r.metrics.recordRedelivery("manual")
	r.logger.Info("reprocessing dead letter",
		zap.String("order_id", orderID),
		zap.String("previous_state", string(prev)),
		zap.Int("attempt", env.Request.Attempt))

	if err := r.invoke(ctx, env); err != nil {
		r.restore(ctx, orderID, prev)
		return err
	}
	return nil
}

// Run pops due tickets until ctx is cancelled and redelivers up to the
// configured concurrency at once. Tickets still waiting at shutdown stay
// SCHEDULED in the store for Recover. Run returns after the running
// redeliveries finish.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("dead-letter scheduler started", zap.Int("concurrency", r.concurrency))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			r.logger.Info("dead-letter scheduler stopped", zap.Int("pending_tickets", r.queue.Len()))
			return nil
		}
		_, t, err := r.queue.Next(ctx)
		if err != nil {
			<-sem
			r.logger.Info("dead-letter scheduler stopped", zap.Int("pending_tickets", r.queue.Len()))
			return nil
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.deliver(ctx, t)
		}()
	}
}

func (r *Router) deliver(ctx context.Context, t ticket) {
	env, err := r.store.Update(ctx, t.OrderID, func(cur *Envelope) (*Envelope, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if cur.State != StateScheduled {
			return nil, ErrStateConflict
		}
		cur.State = StateInFlight
		cur.Request.Attempt = t.Attempt
		return cur, nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStateConflict) {
		r.logger.Debug("stale retry ticket skipped", zap.String("order_id", t.OrderID))
		return
	}
	if err != nil {
		r.logger.Error("failed to claim dead letter", zap.String("order_id", t.OrderID), zap.Error(err))
		return
	}

	r.metrics.recordRedelivery("scheduled")
	r.logger.Info("redelivering payment", zap.String("order_id", t.OrderID), zap.Int("attempt", t.Attempt))
	if err := r.invoke(ctx, env); err != nil {
		r.logger.Error("redelivery failed", zap.String("order_id", t.OrderID), zap.Error(err))
		r.restore(ctx, t.OrderID, StateScheduled)
	}
}

func (r *Router) invoke(ctx context.Context, env *Envelope) error {
	r.mu.RLock()
	fn := r.redeliver
	r.mu.RUnlock()
	if fn == nil {
		return errors.New("deadletter: no redeliverer configured")
	}
	return fn(ctx, env)
}

// restore returns an envelope left IN_FLIGHT by a failed redelivery to prev.
// Going back to SCHEDULED counts the redelivery as an attempt and re-runs the
// policy, so an envelope that keeps failing still ends PERMANENT.
func (r *Router) restore(ctx context.Context, orderID string, prev State) {
	now := r.now()
	env, err := r.store.Update(ctx, orderID, func(cur *Envelope) (*Envelope, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if cur.State != StateInFlight {
			return nil, ErrStateConflict
		}
		cur.State = prev
		if prev != StateScheduled {
			return cur, nil
		}
		cur.AttemptCount++
		if ok, why := r.policy.Evaluate(cur, now); ok {
			cur.NextAttemptAt = now.Add(r.backoff.Delay(cur.AttemptCount))
		} else {
			cur.State = StatePermanent
			cur.NextAttemptAt = time.Time{}
			cur.PermanentReason = why
		}
		return cur, nil
	})
	if err != nil {
		if !errors.Is(err, ErrStateConflict) {
			r.logger.Error("failed to restore dead letter", zap.String("order_id", orderID), zap.Error(err))
		}
		return
	}

	switch env.State {
	case StateScheduled:
		r.queue.Schedule(orderID, env.NextAttemptAt, ticket{OrderID: orderID, Attempt: env.AttemptCount + 1})
	case StatePermanent:
		r.logger.Warn("redelivery keeps failing, dead letter is permanent",
			zap.String("order_id", orderID),
			zap.Int("attempt_count", env.AttemptCount),
			zap.String("verdict", env.PermanentReason))
		r.metrics.recordVerdict(Verdict{Decision: DecisionPermanent, Reason: env.PermanentReason, AttemptCount: env.AttemptCount})
		r.refresh(ctx)
	}
}

// Recover re-arms tickets for envelopes left SCHEDULED or IN_FLIGHT by a
// previous process and returns how many were armed.
func (r *Router) Recover(ctx context.Context) (int, error) {
	scheduled, err := r.store.List(ctx, StateScheduled)
	if err != nil {
		return 0, fmt.Errorf("recover scheduled dead letters: %w", err)
	}
	for _, env := range scheduled {
		r.queue.Schedule(env.OrderID, env.NextAttemptAt, ticket{OrderID: env.OrderID, Attempt: env.AttemptCount + 1})
	}

	inFlight, err := r.store.List(ctx, StateInFlight)
	if err != nil {
		return len(scheduled), fmt.Errorf("recover in-flight dead letters: %w", err)
	}
	armed := len(scheduled)
	now := r.now()
	for _, env := range inFlight {
		updated, err := r.store.Update(ctx, env.OrderID, func(cur *Envelope) (*Envelope, error) {
			if cur == nil || cur.State != StateInFlight {
				return nil, ErrStateConflict
			}
			cur.State = StateScheduled
			cur.NextAttemptAt = now
			return cur, nil
		})
		if err != nil {
			r.logger.Warn("could not recover in-flight dead letter", zap.String("order_id", env.OrderID), zap.Error(err))
			continue
		}
		r.queue.Schedule(updated.OrderID, updated.NextAttemptAt, ticket{OrderID: updated.OrderID, Attempt: updated.AttemptCount + 1})
		armed++
	}

	r.refresh(ctx)
	r.logger.Info("dead-letter tickets recovered", zap.Int("armed", armed))
	return armed, nil
}

// Get returns the envelope for an order.
func (r *Router) Get(ctx context.Context, orderID string) (*Envelope, error) {
	return r.store.Get(ctx, orderID)
}

// List returns envelopes in state, or all of them when state is empty.
func (r *Router) List(ctx context.Context, state State) ([]*Envelope, error) {
	return r.store.List(ctx, state)
}

// Stats counts envelopes by state.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	counts, err := r.store.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsFromCounts(counts), nil
}

// ScheduledAt returns when the retry ticket for an order is due.
func (r *Router) ScheduledAt(orderID string) (time.Time, bool) {
	return r.queue.Due(orderID)
}

// PendingTickets returns the number of armed retry tickets.
func (r *Router) PendingTickets() int {
	return r.queue.Len()
}

func (r *Router) refresh(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	stats, err := r.Stats(ctx)
	if err != nil {
		r.logger.Debug("failed to refresh dead-letter gauges", zap.Error(err))
		return
	}
	r.metrics.observe(stats)
}
