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

package inventory

import (
	"context"
	"fmt"
	"sync"
)

type stockEntry struct {
	mu  sync.Mutex
	qty int
}

// MemoryLedger keeps stock in process. Each product code has its own lock,
// so different codes never contend.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*stockEntry
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*stockEntry)}
}

func (l *MemoryLedger) entry(code string) *stockEntry {
	l.mu.RLock()
	e, ok := l.entries[code]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[code]; ok {
		return e
	}
	e = &stockEntry{}
	l.entries[code] = e
	return e
}

// Reserve implements Ledger.
func (l *MemoryLedger) Reserve(ctx context.Context, code string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e := l.entry(code)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.qty < qty {
		return fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, code, e.qty, qty)
	}
	e.qty -= qty
	return nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, code string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	e := l.entry(code)
	e.mu.Lock()
	e.qty += qty
	e.mu.Unlock()
	return nil
}

// Available implements Ledger.
func (l *MemoryLedger) Available(_ context.Context, code string) (int, error) {
	e := l.entry(code)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qty, nil
}

// Set implements Ledger.
func (l *MemoryLedger) Set(_ context.Context, code string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	e := l.entry(code)
	e.mu.Lock()
	e.qty = qty
	e.mu.Unlock()
	return nil
}
