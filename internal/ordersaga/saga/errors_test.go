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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		kind  Kind
		check func(error) bool
	}{
		{"validation", NewValidationError("bad request", cause), KindValidation, IsValidation},
		{"not found", NewNotFoundError("order", "o-1", nil), KindNotFound, IsNotFound},
		{"insufficient stock", NewInsufficientStockError("SKU-1", 5, 2, nil), KindInsufficientStock, IsInsufficientStock},
		{"invalid transition", NewInvalidStateTransitionError("o-1", model.OrderStatusPaymentSuccess, model.OrderStatusPaymentProcessing), KindInvalidStateTransition, IsInvalidStateTransition},
		{"conflict", NewConflictError("o-1", "busy", cause), KindConflict, IsConflict},
		{"internal", NewInternalError("o-1", "db down", cause), KindInternal, IsInternal},
		{"wrapped", fmt.Errorf("handler: %w", NewNotFoundError("order", "o-2", nil)), KindNotFound, IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.False(t, IsInternal(err))
	assert.False(t, IsNotFound(nil))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternalError("o-1", "persist order", cause)

	assert.Equal(t, "INTERNAL: persist order (order o-1): connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	stock := NewInsufficientStockError("SKU-1", 5, 2, nil)
	assert.Equal(t, "INSUFFICIENT_STOCK: product SKU-1 has 2 available, 5 requested", stock.Error())

	transition := NewInvalidStateTransitionError("o-1", model.OrderStatusPaymentSuccess, model.OrderStatusPaymentProcessing)
	assert.Equal(t, model.OrderStatusPaymentSuccess, transition.Current)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		status model.OrderStatus
		reason string
		want   Kind
	}{
		{model.OrderStatusPaymentFailed, model.ReasonCircuitOpen, KindCircuitOpen},
		{model.OrderStatusPaymentFailed, model.ReasonTimeout, KindTransport},
		{model.OrderStatusPaymentFailed, model.ReasonTransportError, KindTransport},
		{model.OrderStatusPaymentFailed, model.ReasonInsufficientStock, KindInsufficientStock},
		{model.OrderStatusPaymentQueuedDLQ, "Invalid card number", KindPermanentPayment},
		{model.OrderStatusPaymentFailed, "Payment declined by issuer", ""},
		{model.OrderStatusPaymentSuccess, "", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+tt.reason, func(t *testing.T) {
			order := &model.Order{Status: tt.status, FailureReason: tt.reason}
			assert.Equal(t, tt.want, FailureKind(order))
		})
	}
}
