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
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

// Decline reasons returned by the simulated processor.
const (
	ReasonInsufficientFunds = "Insufficient funds"
	ReasonInvalidCard       = "Invalid card number"
	ReasonIssuerDeclined    = "Payment declined by issuer"
)

var declineReasons = []string{ReasonInsufficientFunds, ReasonInvalidCard, ReasonIssuerDeclined}

// Decision is the verdict on a charge.
type Decision struct {
	Approved bool
	Reason   string
}

// Decider approves or declines a charge.
type Decider interface {
	Decide(ctx context.Context, req model.ChargeRequest) Decision
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req model.ChargeRequest) Decision

func (f DeciderFunc) Decide(ctx context.Context, req model.ChargeRequest) Decision {
	return f(ctx, req)
}

// SimulatedDecider approves a configurable share of charges. Amounts above
// MaxAmount are always declined for insufficient funds.
type SimulatedDecider struct {
	successRate float64
	maxAmount   decimal.Decimal

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedDecider creates a decider. A zero seed uses the clock.
func NewSimulatedDecider(successRate float64, maxAmount decimal.Decimal, seed int64) *SimulatedDecider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedDecider{
		successRate: successRate,
		maxAmount:   maxAmount,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Decide implements Decider.
func (d *SimulatedDecider) Decide(_ context.Context, req model.ChargeRequest) Decision {
	if d.maxAmount.IsPositive() && req.Amount.GreaterThan(d.maxAmount) {
		return Decision{Reason: ReasonInsufficientFunds}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng.Float64() < d.successRate {
		return Decision{Approved: true}
	}
	return Decision{Reason: declineReasons[d.rng.Intn(len(declineReasons))]}
}
