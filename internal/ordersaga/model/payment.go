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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the outcome of a charge.
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentStatusNotFound only appears in lookup replies.
const PaymentStatusNotFound PaymentStatus = "NOT_FOUND"

// Payment is a charge attempt recorded by the payment processor. At most one
// SUCCESS record exists per OrderRef.
type Payment struct {
	ID             string          `json:"id"`
	OrderRef       string          `json:"order_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Result converts a stored payment into the reply sent to the coordinator.
func (p *Payment) Result(duplicate bool) *PaymentResult {
	return &PaymentResult{
		OrderRef:       p.OrderRef,
		Status:         p.Status,
		PaymentID:      p.ID,
		TransactionRef: p.TransactionRef,
		Reason:         p.FailureReason,
		Duplicate:      duplicate,
	}
}
