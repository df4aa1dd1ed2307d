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

// Package model holds the order, payment and payment-command types.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus is the saga state of an order.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	OrderStatusPaymentSuccess    OrderStatus = "PAYMENT_SUCCESS"
	OrderStatusPaymentFailed     OrderStatus = "PAYMENT_FAILED"
	OrderStatusPaymentQueuedDLQ  OrderStatus = "PAYMENT_QUEUED_DLQ"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:           {OrderStatusPaymentProcessing, OrderStatusPaymentFailed},
	OrderStatusPaymentProcessing: {OrderStatusPaymentSuccess, OrderStatusPaymentFailed},
	OrderStatusPaymentFailed:     {OrderStatusPaymentProcessing, OrderStatusPaymentQueuedDLQ},
	OrderStatusPaymentQueuedDLQ:  {OrderStatusPaymentProcessing},
}

// CanTransitionTo reports whether the saga may move from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentProcessing, OrderStatusPaymentSuccess,
		OrderStatusPaymentFailed, OrderStatusPaymentQueuedDLQ:
		return true
	}
	return false
}

// ParseOrderStatus converts a case-insensitive name into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

// Failure reasons recorded by the coordinator when the charge never got a
// business answer.
const (
	ReasonCircuitOpen       = "circuit-open"
	ReasonTransportError    = "transport-error"
	ReasonTimeout           = "timeout"
	ReasonInsufficientStock = "insufficient-stock"
)

// Order is a customer order driven through the payment saga.
type Order struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProductCode   string          `gorm:"type:varchar(64);not null;index" json:"product_code"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Quantity      int             `gorm:"not null" json:"quantity"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	CustomerID    string          `gorm:"type:varchar(64);not null" json:"customer_id"`
	CustomerEmail string          `gorm:"type:varchar(255);not null" json:"customer_email"`
	Status        OrderStatus     `gorm:"type:varchar(32);not null;index" json:"status"`
	PaymentRef    *string         `gorm:"type:varchar(64)" json:"payment_ref,omitempty"`
	FailureReason string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `gorm:"not null;default:0" json:"version"`
}

// TableName pins the table name.
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate is a GORM hook that assigns an id to new orders.
func (o *Order) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return
}

// NewOrder prices an order for qty units of product.
func NewOrder(product *Product, qty int, customerID, customerEmail string) *Order {
	return &Order{
		ID:            uuid.NewString(),
		ProductCode:   product.Code,
		UnitPrice:     product.Price,
		Quantity:      qty,
		TotalAmount:   product.Price.Mul(decimal.NewFromInt(int64(qty))),
		CustomerID:    customerID,
		CustomerEmail: customerEmail,
		Status:        OrderStatusPending,
	}
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.PaymentRef != nil {
		ref := *o.PaymentRef
		c.PaymentRef = &ref
	}
	return &c
}

// PaymentReference returns the payment reference or "".
func (o *Order) PaymentReference() string {
	if o.PaymentRef == nil {
		return ""
	}
	return *o.PaymentRef
}

// MarkSucceeded records a successful charge.
func (o *Order) MarkSucceeded(paymentRef string) {
	o.Status = OrderStatusPaymentSuccess
	o.PaymentRef = &paymentRef
	o.FailureReason = ""
}

// MarkFailed records a failed charge with its classified reason.
func (o *Order) MarkFailed(reason string) {
	o.Status = OrderStatusPaymentFailed
	o.PaymentRef = nil
	o.FailureReason = reason
}
