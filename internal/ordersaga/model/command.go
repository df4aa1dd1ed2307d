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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// CommandKind names the payment operation carried by a PaymentCommand.
type CommandKind string

const (
	CommandCharge CommandKind = "charge"
	CommandLookup CommandKind = "lookup"
)

// ChargeRequest asks the processor to charge an order.
type ChargeRequest struct {
	OrderRef      string          `json:"order_ref" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	CustomerID    string          `json:"customer_id" validate:"required"`
	CustomerEmail string          `json:"customer_email" validate:"required,email"`
	Attempt       int             `json:"attempt" validate:"gte=1"`
}

// Validate checks the request fields.
func (r *ChargeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	return nil
}

// LookupRequest asks for the latest payment of an order.
type LookupRequest struct {
	OrderRef string `json:"order_ref" validate:"required"`
}

// PaymentCommand is the message sent to the payment processor. Exactly one
// of Charge or Lookup is set, matching Kind.
type PaymentCommand struct {
	Kind   CommandKind    `json:"kind"`
	Charge *ChargeRequest `json:"charge,omitempty"`
	Lookup *LookupRequest `json:"lookup,omitempty"`
}

// NewChargeCommand wraps a charge request.
func NewChargeCommand(req ChargeRequest) PaymentCommand {
	return PaymentCommand{Kind: CommandCharge, Charge: &req}
}

// NewLookupCommand wraps a lookup request.
func NewLookupCommand(orderRef string) PaymentCommand {
	return PaymentCommand{Kind: CommandLookup, Lookup: &LookupRequest{OrderRef: orderRef}}
}

// ErrUnknownCommand is returned for a kind the processor does not handle.
var ErrUnknownCommand = errors.New("unknown payment command kind")

// Validate checks that the populated member matches Kind.
func (c *PaymentCommand) Validate() error {
	switch c.Kind {
	case CommandCharge:
		if c.Charge == nil || c.Lookup != nil {
			return errors.New("charge command must carry only a charge request")
		}
		return c.Charge.Validate()
	case CommandLookup:
		if c.Lookup == nil || c.Charge != nil {
			return errors.New("lookup command must carry only a lookup request")
		}
		return validate.Struct(c.Lookup)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
}

// OrderRef returns the order reference of whichever member is set.
func (c *PaymentCommand) OrderRef() string {
	switch {
	case c.Charge != nil:
		return c.Charge.OrderRef
	case c.Lookup != nil:
		return c.Lookup.OrderRef
	}
	return ""
}

// DecodeCommand parses and validates a command payload.
func DecodeCommand(data []byte) (*PaymentCommand, error) {
	var cmd PaymentCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode payment command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return &cmd, fmt.Errorf("invalid payment command: %w", err)
	}
	return &cmd, nil
}

// PaymentResult is the processor's reply.
type PaymentResult struct {
	OrderRef       string        `json:"order_ref"`
	Status         PaymentStatus `json:"status"`
	PaymentID      string        `json:"payment_id,omitempty"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Duplicate      bool          `json:"duplicate,omitempty"`
}

// Succeeded reports whether the charge went through.
func (r *PaymentResult) Succeeded() bool {
	return r.Status == PaymentStatusSuccess
}
