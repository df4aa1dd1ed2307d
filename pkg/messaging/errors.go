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
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks a request whose reply did not arrive in time.
	ErrTimeout = errors.New("messaging: request timed out")
	// ErrClosed is returned by a transport after Close.
	ErrClosed = errors.New("messaging: transport closed")
	// ErrAlreadySettled is returned when a delivery is acked or rejected twice.
	ErrAlreadySettled = errors.New("messaging: delivery already settled")
	// ErrNoReplyAddress is returned by Reply when the message has nowhere to reply to.
	ErrNoReplyAddress = errors.New("messaging: delivery has no reply address")
)

// ErrorType classifies messaging failures.
type ErrorType string

const (
	ErrorTypeConnection    ErrorType = "CONNECTION"
	ErrorTypeTimeout       ErrorType = "TIMEOUT"
	ErrorTypePublishing    ErrorType = "PUBLISHING"
	ErrorTypeProcessing    ErrorType = "PROCESSING"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
)

// Error is a transport failure with the operation and destination involved.
type Error struct {
	Type    ErrorType
	Op      string
	Subject string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("messaging %s", e.Op)
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	msg += fmt.Sprintf(" [%s]", e.Type)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause and, for timeouts, ErrTimeout.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Type == ErrorTypeTimeout {
		errs = append(errs, ErrTimeout)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewConnectionError reports a broken or unavailable connection.
func NewConnectionError(op, subject string, cause error) *Error {
	return &Error{Type: ErrorTypeConnection, Op: op, Subject: subject, Cause: cause}
}

// NewTimeoutError reports a request that received no reply before its deadline.
func NewTimeoutError(subject string, cause error) *Error {
	return &Error{Type: ErrorTypeTimeout, Op: "request", Subject: subject, Cause: cause}
}

// NewPublishError reports a message that could not be handed to the broker.
func NewPublishError(subject string, cause error) *Error {
	return &Error{Type: ErrorTypePublishing, Op: "publish", Subject: subject, Cause: cause}
}

// NewProcessingError reports a failure while handling an inbound delivery.
func NewProcessingError(subject string, cause error) *Error {
	return &Error{Type: ErrorTypeProcessing, Op: "process", Subject: subject, Cause: cause}
}

// NewConfigError reports invalid transport configuration.
func NewConfigError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeConfiguration, Op: message, Cause: cause}
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsConnectionError reports whether err is a connection failure.
func IsConnectionError(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Type == ErrorTypeConnection
}

// FromContext maps a finished request context to a transport error.
func FromContext(ctx context.Context, subject string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(subject, err)
	}
	return err
}
