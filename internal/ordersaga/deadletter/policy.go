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

package deadletter

import (
	"fmt"
	"strings"
	"time"
)

// Permanent verdict reasons.
const (
	PermanentMaxAttempts  = "max-attempts-exceeded"
	PermanentMaxAge       = "max-age-exceeded"
	PermanentNonRetryable = "non-retryable"
)

// Policy decides whether an envelope is eligible for another attempt.
type Policy struct {
	MaxAttempts int
	MaxAge      time.Duration
	// NonRetryablePrefixes match reasons by prefix, e.g. "Invalid".
	NonRetryablePrefixes []string
	// NonRetryableReasons match reasons exactly.
	NonRetryableReasons []string
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:          3,
		MaxAge:               time.Hour,
		NonRetryablePrefixes: []string{"Invalid"},
		NonRetryableReasons:  []string{"Insufficient funds"},
	}
}

// NonRetryable reports whether a failure reason can never succeed on retry.
func (p Policy) NonRetryable(reason string) bool {
	for _, r := range p.NonRetryableReasons {
		if reason == r {
			return true
		}
	}
	for _, prefix := range p.NonRetryablePrefixes {
		if strings.HasPrefix(reason, prefix) {
			return true
		}
	}
	return false
}

// Evaluate returns whether env may be retried at now. When it may not, the
// returned string names the rule that rejected it.
func (p Policy) Evaluate(env *Envelope, now time.Time) (bool, string) {
	if env.AttemptCount >= p.MaxAttempts {
		return false, PermanentMaxAttempts
	}
	if p.MaxAge > 0 && now.Sub(env.FirstAttemptAt) >= p.MaxAge {
		return false, PermanentMaxAge
	}
	if p.NonRetryable(env.Reason) {
		return false, fmt.Sprintf("%s: %s", PermanentNonRetryable, env.Reason)
	}
	return true, ""
}
