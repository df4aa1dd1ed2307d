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

package messaging

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MemoryTransport is an in-process Transport. Requests are queued per subject
// and each delivery carries a private reply channel.
type MemoryTransport struct {
	mu     sync.Mutex
	queues map[string]chan *memoryDelivery
	buffer int

	done      chan struct{}
	closeOnce sync.Once

	requests atomic.Int64
	acked    atomic.Int64
	rejected atomic.Int64
}

// NewMemoryTransport creates a transport whose per-subject queues hold up to buffer messages.
func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryTransport{
		queues: make(map[string]chan *memoryDelivery),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

func (t *MemoryTransport) queue(name string) chan *memoryDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = make(chan *memoryDelivery, t.buffer)
		t.queues[name] = q
	}
	return q
}

// Request implements Transport.
func (t *MemoryTransport) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	select {
	case <-t.done:
		return nil, NewConnectionError("request", subject, ErrClosed)
	default:
	}
	t.requests.Add(1)

	body := make([]byte, len(payload))
	copy(body, payload)
	d := &memoryDelivery{
		id:        uuid.NewString(),
		body:      body,
		headers:   map[string]string{"subject": subject},
		reply:     make(chan []byte, 1),
		transport: t,
	}

	select {
	case t.queue(subject) <- d:
	case <-t.done:
		return nil, NewConnectionError("request", subject, ErrClosed)
	case <-ctx.Done():
		return nil, FromContext(ctx, subject)
	}

	select {
	case resp := <-d.reply:
		return resp, nil
	case <-t.done:
		return nil, NewConnectionError("request", subject, ErrClosed)
	case <-ctx.Done():
		return nil, FromContext(ctx, subject)
	}
}

// Consume implements Transport. Several consumers on one queue compete for messages.
func (t *MemoryTransport) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	select {
	case <-t.done:
		return nil, NewConnectionError("consume", queue, ErrClosed)
	default:
	}

	in := t.queue(queue)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case d := <-in:
				select {
				case out <- d:
				case <-ctx.Done():
					return
				case <-t.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// Requests returns the number of requests sent through the transport.
func (t *MemoryTransport) Requests() int64 { return t.requests.Load() }

// Acked returns the number of acknowledged deliveries.
func (t *MemoryTransport) Acked() int64 { return t.acked.Load() }

// Rejected returns the number of rejected deliveries.
func (t *MemoryTransport) Rejected() int64 { return t.rejected.Load() }

type memoryDelivery struct {
	Settlement

	id        string
	body      []byte
	headers   map[string]string
	reply     chan []byte
	replied   atomic.Bool
	transport *MemoryTransport
}

func (d *memoryDelivery) ID() string                 { return d.id }
func (d *memoryDelivery) Body() []byte               { return d.body }
func (d *memoryDelivery) Headers() map[string]string { return d.headers }

func (d *memoryDelivery) Reply(_ context.Context, payload []byte) error {
	if d.reply == nil {
		return ErrNoReplyAddress
	}
	if !d.replied.CompareAndSwap(false, true) {
		return nil
	}
	// buffered; the requester may already have given up
	d.reply <- payload
	return nil
}

func (d *memoryDelivery) Ack() error {
	return d.Settle(func() error {
		d.transport.acked.Add(1)
		return nil
	})
}

func (d *memoryDelivery) Reject() error {
	return d.Settle(func() error {
		d.transport.rejected.Add(1)
		return nil
	})
}
