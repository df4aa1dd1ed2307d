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

package saga

import (
	"errors"
	"fmt"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

// Kind classifies a saga error.
type Kind string

const (
	KindValidation             Kind = "VALIDATION"
	KindNotFound               Kind = "NOT_FOUND"
	KindInsufficientStock      Kind = "INSUFFICIENT_STOCK"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindConflict               Kind = "CONFLICT"
	KindTransport              Kind = "TRANSPORT"
	KindCircuitOpen            Kind = "CIRCUIT_OPEN"
	KindPermanentPayment       Kind = "PERMANENT_PAYMENT_FAILURE"
	KindInternal               Kind = "INTERNAL"
)

// Error is returned by every Coordinator operation.
type Error struct {
	Kind    Kind
	Message string
	OrderID string
	// Current is the order status for KindInvalidStateTransition.
	Current model.OrderStatus
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.OrderID != "" {
		msg = fmt.Sprintf("%s (order %s)", msg, e.OrderID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewValidationError reports a malformed request.
func NewValidationError(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: message, Cause: cause}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource, id string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id), Cause: cause}
}

// NewInsufficientStockError reports that a product cannot cover a quantity.
func NewInsufficientStockError(productCode string, requested, available int, cause error) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("product %s has %d available, %d requested", productCode, available, requested),
		Cause:   cause,
	}
}

// NewInvalidStateTransitionError reports an operation the order status forbids.
func NewInvalidStateTransitionError(orderID string, current, target model.OrderStatus) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		Message: fmt.Sprintf("cannot move from %s to %s", current, target),
		OrderID: orderID,
		Current: current,
	}
}

// NewConflictError reports an operation already running elsewhere.
func NewConflictError(orderID, message string, cause error) *Error {
	return &Error{Kind: KindConflict, Message: message, OrderID: orderID, Cause: cause}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(orderID, message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, OrderID: orderID, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool             { return hasKind(err, KindValidation) }
func IsNotFound(err error) bool               { return hasKind(err, KindNotFound) }
func IsInsufficientStock(err error) bool      { return hasKind(err, KindInsufficientStock) }
func IsInvalidStateTransition(err error) bool { return hasKind(err, KindInvalidStateTransition) }
func IsConflict(err error) bool               { return hasKind(err, KindConflict) }
func IsInternal(err error) bool               { return hasKind(err, KindInternal) }

func hasKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// FailureKind classifies the stored failure reason of a failed order.
func FailureKind(order *model.Order) Kind {
	switch {
	case order.Status == model.OrderStatusPaymentQueuedDLQ:
		return KindPermanentPayment
	case order.FailureReason == model.ReasonCircuitOpen:
		return KindCircuitOpen
	case order.FailureReason == model.ReasonTimeout, order.FailureReason == model.ReasonTransportError:
		return KindTransport
	case order.FailureReason == model.ReasonInsufficientStock:
		return KindInsufficientStock
	}
	return ""
}
