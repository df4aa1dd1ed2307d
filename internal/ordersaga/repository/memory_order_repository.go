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

// MemoryOrderRepository keeps orders in process. Stored orders are copied
// in and out so callers never share state with the store.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	now    func() time.Time
}

// NewMemoryOrderRepository creates an empty repository.
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*model.Order), now: time.Now}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) Update(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return fmt.Errorf("%w: %s", ErrVersionConflict, order.ID)
	}
	order.Version++
	order.UpdatedAt = r.now()
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) List(_ context.Context, opts ListOptions) ([]*model.Order, error) {
	r.mu.RLock()
	out := make([]*model.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*model.Order{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}
