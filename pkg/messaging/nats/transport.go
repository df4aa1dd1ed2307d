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

// Package nats implements messaging.Transport on core NATS request/reply.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/pkg/messaging"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	QueueGroup     string        `mapstructure:"queue_group"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	PendingBuffer  int           `mapstructure:"pending_buffer"`
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            natsgo.DefaultURL,
		Name:           "ordersaga",
		QueueGroup:     "payment-processors",
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 5 * time.Second,
		MaxReconnects:  60,
		ReconnectWait:  2 * time.Second,
		PendingBuffer:  256,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return messaging.NewConfigError("nats url is required", nil)
	}
	if c.RequestTimeout <= 0 {
		return messaging.NewConfigError("nats request_timeout must be positive", nil)
	}
	return nil
}

// Transport is a messaging.Transport backed by a NATS connection.
type Transport struct {
	conn   *natsgo.Conn
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*natsgo.Subscription
	closed bool
}

// Dial connects to NATS.
func Dial(cfg Config, logger *zap.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, messaging.NewConnectionError("connect", cfg.URL, err)
	}
	return NewTransport(conn, cfg, logger), nil
}

// NewTransport wraps an existing connection.
func NewTransport(conn *natsgo.Conn, cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PendingBuffer <= 0 {
		cfg.PendingBuffer = 256
	}
	return &Transport{conn: conn, cfg: cfg, logger: logger}
}

// Request implements messaging.Transport.
func (t *Transport) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, messaging.NewConnectionError("request", subject, errors.New("nats connection is nil"))
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()
	}

	msg, err := t.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		switch {
		case errors.Is(err, natsgo.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, messaging.NewTimeoutError(subject, err)
		case errors.Is(err, natsgo.ErrNoResponders):
			return nil, messaging.NewPublishError(subject, err)
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, messaging.NewConnectionError("request", subject, err)
		}
	}
	return msg.Data, nil
}

// Consume implements messaging.Transport using a queue subscription, so
// several processors share the subject.
func (t *Transport) Consume(ctx context.Context, queue string) (<-chan messaging.Delivery, error) {
	if t.conn == nil {
		return nil, messaging.NewConnectionError("consume", queue, errors.New("nats connection is nil"))
	}

	in := make(chan *natsgo.Msg, t.cfg.PendingBuffer)
	sub, err := t.conn.ChanQueueSubscribe(queue, t.cfg.QueueGroup, in)
	if err != nil {
		return nil, messaging.NewConnectionError("consume", queue, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, messaging.NewConnectionError("consume", queue, messaging.ErrClosed)
	}
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) && !errors.Is(err, natsgo.ErrBadSubscription) {
				t.logger.Warn("nats unsubscribe failed", zap.String("subject", queue), zap.Error(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- newDelivery(m, t.logger):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close drains subscriptions and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		t.closed = true
		return nil
	}
	t.closed = true
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// delivery adapts a core NATS message. Core NATS has no broker-side
// acknowledgement, so Ack and Reject only settle the message locally.
type delivery struct {
	messaging.Settlement

	msg    *natsgo.Msg
	id     string
	logger *zap.Logger
}

func newDelivery(m *natsgo.Msg, logger *zap.Logger) *delivery {
	id := ""
	if m.Header != nil {
		id = m.Header.Get(natsgo.MsgIdHdr)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &delivery{msg: m, id: id, logger: logger}
}

func (d *delivery) ID() string   { return d.id }
func (d *delivery) Body() []byte { return d.msg.Data }

func (d *delivery) Headers() map[string]string {
	h := map[string]string{"subject": d.msg.Subject}
	for k := range d.msg.Header {
		h[k] = d.msg.Header.Get(k)
	}
	return h
}

func (d *delivery) Reply(_ context.Context, payload []byte) error {
	if d.msg.Reply == "" {
		return messaging.ErrNoReplyAddress
	}
	if err := d.msg.Respond(payload); err != nil {
		return messaging.NewPublishError(d.msg.Reply, err)
	}
	return nil
}

func (d *delivery) Ack() error {
	return d.Settle(nil)
}

func (d *delivery) Reject() error {
	return d.Settle(func() error {
		d.logger.Debug("nats message rejected", zap.String("subject", d.msg.Subject), zap.String("id", d.id))
		return nil
	})
}
