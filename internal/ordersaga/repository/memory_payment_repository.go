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

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

// MemoryPaymentRepository is an in-process PaymentRepository.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string][]model.Payment
}

// NewMemoryPaymentRepository creates an empty repository.
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[string][]model.Payment)}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Status == model.PaymentStatusSuccess {
		for _, existing := range r.payments[p.OrderRef] {
			if existing.Status == model.PaymentStatusSuccess {
				return fmt.Errorf("%w: %s", ErrDuplicateSuccess, p.OrderRef)
			}
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.payments[p.OrderRef] = append(r.payments[p.OrderRef], *p)
	return nil
}

func (r *MemoryPaymentRepository) FindByOrderRef(_ context.Context, orderRef string) ([]*model.Payment, error) {
	r.mu.RLock()
	stored := r.payments[orderRef]
	out := make([]*model.Payment, 0, len(stored))
	for i := range stored {
		p := stored[i]
		out = append(out, &p)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryPaymentRepository) FindSuccessByOrderRef(_ context.Context, orderRef string) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments[orderRef] {
		if p.Status == model.PaymentStatusSuccess {
			p := p
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// CountSuccess returns the number of SUCCESS records for an order.
func (r *MemoryPaymentRepository) CountSuccess(orderRef string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.payments[orderRef] {
		if p.Status == model.PaymentStatusSuccess {
			n++
		}
	}
	return n
}
