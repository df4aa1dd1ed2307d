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

// Package messaging defines the request/response transport used between the
// saga coordinator and the payment processor, plus an in-process implementation.
// Broker-backed implementations live in the nats and rabbitmq subpackages.
package messaging

import (
	"context"
	"sync/atomic"
)

// Transport sends requests and hands inbound deliveries to a consumer.
type Transport interface {
	// Request publishes payload on subject and waits for the reply. The wait is
	// bounded by ctx; an expired deadline yields an error matching ErrTimeout.
	Request(ctx context.Context, subject string, payload []byte) ([]byte, error)

	// Consume starts delivering messages published on queue. The returned
	// channel is closed when ctx is done or the transport is closed.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Close releases the underlying connection.
	Close() error
}

// Delivery is a single inbound message. Every delivery must be settled exactly
// once with Ack or Reject; a rejected delivery is never requeued by the broker.
type Delivery interface {
	ID() string
	Body() []byte
	Headers() map[string]string

	// Reply sends a response to the requester, if the message carries a reply address.
	Reply(ctx context.Context, payload []byte) error

	Ack() error
	Reject() error
}

// Settlement enforces the settle-once rule for Delivery implementations.
type Settlement struct {
	settled atomic.Bool
}

// Settle runs fn if the delivery has not been settled yet.
func (s *Settlement) Settle(fn func() error) error {
	if !s.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// Settled reports whether Ack or Reject has been called.
func (s *Settlement) Settled() bool {
	return s.settled.Load()
}
