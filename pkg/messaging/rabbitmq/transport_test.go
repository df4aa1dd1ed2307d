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

package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/pkg/messaging"
)

type mockConnection struct {
	mu       sync.Mutex
	channels []*mockChannel
	failNext error
	closed   bool
}

func (m *mockConnection) Channel() (amqpChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	ch := newMockChannel()
	m.channels = append(m.channels, ch)
	return ch, nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockChannel struct {
	mu        sync.Mutex
	published []publishedMsg
	deliver   chan amqp.Delivery
	acked     []uint64
	nacked    []uint64
	requeued  []bool
	prefetch  int
	declared  []string
	closed    bool
	onPublish func(key string, msg amqp.Publishing)
}

type publishedMsg struct {
	key string
	msg amqp.Publishing
}

func newMockChannel() *mockChannel {
	return &mockChannel{deliver: make(chan amqp.Delivery, 8)}
}

func (c *mockChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = "amq.gen-reply"
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *mockChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	c.prefetch = prefetchCount
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	c.published = append(c.published, publishedMsg{key: key, msg: msg})
	hook := c.onPublish
	c.mu.Unlock()
	if hook != nil {
		hook(key, msg)
	}
	return nil
}

func (c *mockChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliver, nil
}

func (c *mockChannel) Ack(tag uint64, _ bool) error {
	c.mu.Lock()
	c.acked = append(c.acked, tag)
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) Nack(tag uint64, _, requeue bool) error {
	c.mu.Lock()
	c.nacked = append(c.nacked, tag)
	c.requeued = append(c.requeued, requeue)
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestTransport_RequestReply(t *testing.T) {
	conn := &mockConnection{}
	tr := newTransport(conn, DefaultConfig(), nil)

	done := make(chan struct{})
	var reply []byte
	var reqErr error
	go func() {
		defer close(done)
		reply, reqErr = tr.Request(context.Background(), "payments.requests", []byte(`{"kind":"charge"}`))
	}()

	var rpc *mockChannel
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		if len(conn.channels) == 0 {
			return false
		}
		rpc = conn.channels[0]
		rpc.mu.Lock()
		defer rpc.mu.Unlock()
		return len(rpc.published) == 1
	}, time.Second, time.Millisecond)

	rpc.mu.Lock()
	sent := rpc.published[0]
	rpc.mu.Unlock()
	assert.Equal(t, "payments.requests", sent.key)
	assert.Equal(t, "amq.gen-reply", sent.msg.ReplyTo)
	require.NotEmpty(t, sent.msg.CorrelationId)

	rpc.deliver <- amqp.Delivery{CorrelationId: "someone-else", Body: []byte("ignored")}
	rpc.deliver <- amqp.Delivery{CorrelationId: sent.msg.CorrelationId, Body: []byte(`{"status":"SUCCESS"}`)}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request did not complete")
	}
	require.NoError(t, reqErr)
	assert.Equal(t, `{"status":"SUCCESS"}`, string(reply))
	require.NoError(t, tr.Close())
}

func TestTransport_RequestTimeout(t *testing.T) {
	tr := newTransport(&mockConnection{}, DefaultConfig(), nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Request(ctx, "payments.requests", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, messaging.ErrTimeout)
	assert.True(t, messaging.IsTimeout(err))
}

func TestTransport_RequestChannelFailure(t *testing.T) {
	conn := &mockConnection{failNext: errors.New("channel refused")}
	tr := newTransport(conn, DefaultConfig(), nil)

	_, err := tr.Request(context.Background(), "payments.requests", nil)
	require.Error(t, err)
	assert.True(t, messaging.IsConnectionError(err))
}

func TestTransport_ConsumeAckRejectReply(t *testing.T) {
	conn := &mockConnection{}
	cfg := DefaultConfig()
	cfg.Prefetch = 4
	tr := newTransport(conn, cfg, nil)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := tr.Consume(ctx, "payments.requests")
	require.NoError(t, err)

	consumer := conn.channels[0]
	assert.Equal(t, 4, consumer.prefetch)
	assert.Equal(t, []string{"payments.requests"}, consumer.declared)

	consumer.deliver <- amqp.Delivery{DeliveryTag: 1, MessageId: "m-1", ReplyTo: "amq.gen-reply", CorrelationId: "c-1", Body: []byte("a")}
	consumer.deliver <- amqp.Delivery{DeliveryTag: 2, MessageId: "m-2", Body: []byte("b")}

	first := <-deliveries
	assert.Equal(t, "m-1", first.ID())
	assert.Equal(t, "c-1", first.Headers()["correlation_id"])
	require.NoError(t, first.Reply(ctx, []byte("reply")))
	require.NoError(t, first.Ack())
	assert.ErrorIs(t, first.Ack(), messaging.ErrAlreadySettled)

	second := <-deliveries
	assert.ErrorIs(t, second.Reply(ctx, []byte("reply")), messaging.ErrNoReplyAddress)
	require.NoError(t, second.Reject())

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, []uint64{1}, consumer.acked)
	assert.Equal(t, []uint64{2}, consumer.nacked)
	assert.Equal(t, []bool{false}, consumer.requeued)
	require.Len(t, consumer.published, 1)
	assert.Equal(t, "amq.gen-reply", consumer.published[0].key)
	assert.Equal(t, "c-1", consumer.published[0].msg.CorrelationId)
}

func TestTransport_ConsumeStopsOnCancel(t *testing.T) {
	tr := newTransport(&mockConnection{}, DefaultConfig(), nil)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := tr.Consume(ctx, "payments.requests")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("delivery channel not closed")
	}
}

func TestTransport_Closed(t *testing.T) {
	conn := &mockConnection{}
	tr := newTransport(conn, DefaultConfig(), nil)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, conn.closed)

	_, err := tr.Consume(context.Background(), "q")
	assert.ErrorIs(t, err, messaging.ErrClosed)
	_, err = tr.Request(context.Background(), "q", nil)
	assert.ErrorIs(t, err, messaging.ErrClosed)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Prefetch = -1
	assert.Error(t, cfg.Validate())
}
