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

// Package deadletter holds failed payment dispatches and schedules their
// redelivery.
package deadletter

import (
	"errors"
	"strings"
	"time"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

var (
	// ErrNotFound is returned when no envelope exists for an order.
	ErrNotFound = errors.New("dead-letter envelope not found")
	// ErrReprocessInProgress is returned when an envelope is already being redelivered.
	ErrReprocessInProgress = errors.New("dead-letter reprocess already in progress")
	// ErrAlreadyProcessed is returned when reprocessing an envelope that has been resolved.
	ErrAlreadyProcessed = errors.New("dead-letter envelope already processed")
	// ErrStateConflict is returned when an envelope is not in the expected state.
	ErrStateConflict = errors.New("dead-letter envelope state conflict")
)

// State is the lifecycle state of an envelope.
type State string

const (
	StatePending   State = "PENDING"
	StateScheduled State = "SCHEDULED"
	StateInFlight  State = "IN_FLIGHT"
	StatePermanent State = "PERMANENT"
	StateProcessed State = "PROCESSED"
)

// States lists every envelope state.
var States = []State{StatePending, StateScheduled, StateInFlight, StatePermanent, StateProcessed}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, st := range States {
		if s == st {
			return true
		}
	}
	return false
}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, bool) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Envelope wraps a failed charge request together with its retry bookkeeping.
type Envelope struct {
	OrderID         string              `json:"order_id"`
	Request         model.ChargeRequest `json:"request"`
	Reason          string              `json:"reason"`
	AttemptCount    int                 `json:"attempt_count"`
	FirstAttemptAt  time.Time           `json:"first_attempt_at"`
	LastAttemptAt   time.Time           `json:"last_attempt_at"`
	NextAttemptAt   time.Time           `json:"next_attempt_at,omitempty"`
	State           State               `json:"state"`
	PermanentReason string              `json:"permanent_reason,omitempty"`
}

// Clone returns a copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Decision is the outcome of evaluating an envelope.
type Decision string

const (
	DecisionScheduled Decision = "SCHEDULED"
	DecisionPermanent Decision = "PERMANENT"
)

// Verdict is returned by Submit.
type Verdict struct {
	Decision      Decision
	AttemptCount  int
	NextAttemptAt time.Time
	// Reason explains a permanent decision.
	Reason string
}

// Permanent reports whether the envelope will never be retried automatically.
func (v Verdict) Permanent() bool {
	return v.Decision == DecisionPermanent
}

// Stats summarises the envelopes in a store.
type Stats struct {
	PendingCount          int           `json:"pending_count"`
	ProcessedCount        int           `json:"processed_count"`
	PermanentFailureCount int           `json:"permanent_failure_count"`
	ByState               map[State]int `json:"by_state"`
}

func statsFromCounts(counts map[State]int) Stats {
	by := make(map[State]int, len(States))
	for _, st := range States {
		by[st] = counts[st]
	}
	return Stats{
		PendingCount:          by[StatePending] + by[StateScheduled] + by[StateInFlight],
		ProcessedCount:        by[StateProcessed],
		PermanentFailureCount: by[StatePermanent],
		ByState:               by,
	}
}
