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

// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

// Type names a lifecycle event.
type Type string

const (
	OrderCreated     Type = "order.created"
	PaymentSucceeded Type = "order.payment_succeeded"
	PaymentFailed    Type = "order.payment_failed"
	StockCompensated Type = "order.stock_compensated"
	DeadLettered     Type = "order.dead_lettered"
)

// Event is the payload written to the events topic.
type Event struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	ProductCode string            `json:"product_code"`
	Quantity    int               `json:"quantity"`
	Amount      string            `json:"amount"`
	Reason      string            `json:"reason,omitempty"`
	PaymentRef  string            `json:"payment_ref,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// New builds an event describing order as it is now.
func New(t Type, order *model.Order) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		OrderID:     order.ID,
		Status:      order.Status,
		ProductCode: order.ProductCode,
		Quantity:    order.Quantity,
		Amount:      order.TotalAmount.StringFixed(2),
		Reason:      order.FailureReason,
		PaymentRef:  order.PaymentReference(),
		OccurredAt:  time.Now().UTC(),
	}
}

// Publisher emits lifecycle events. Callers treat publish errors as
// non-fatal.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by order id, so all
// events of one order land on the same partition.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(writer, logger), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, timeout: 10 * time.Second, logger: logger}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
		Time: event.OccurredAt,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s for order %s: %w", event.Type, event.OrderID, err)
	}
	p.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("order_id", event.OrderID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
