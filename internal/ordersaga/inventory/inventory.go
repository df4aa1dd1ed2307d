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

// Package inventory holds the product catalog and the stock ledger.
package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

var (
	// ErrInsufficientStock is returned by Reserve when fewer units are available than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNotFound is returned by the catalog for unknown codes.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Ledger tracks available stock per product code. Every reservation must
// be either consumed by a successful payment or given back with Release.
type Ledger interface {
	Reserve(ctx context.Context, code string, qty int) error
	Release(ctx context.Context, code string, qty int) error
	Available(ctx context.Context, code string) (int, error)
	Set(ctx context.Context, code string, qty int) error
}

// Catalog resolves product metadata.
type Catalog interface {
	GetProduct(ctx context.Context, code string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]*model.Product, error)
}

// MemoryCatalog is a read-mostly catalog seeded at startup.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]model.Product
}

// NewMemoryCatalog builds a catalog from products.
func NewMemoryCatalog(products ...*model.Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]model.Product, len(products))}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put adds or replaces a product.
func (c *MemoryCatalog) Put(p *model.Product) {
	c.mu.Lock()
	c.products[p.Code] = *p
	c.mu.Unlock()
}

// GetProduct implements Catalog.
func (c *MemoryCatalog) GetProduct(_ context.Context, code string) (*model.Product, error) {
	c.mu.RLock()
	p, ok := c.products[code]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// ListProducts implements Catalog. Products are ordered by code.
func (c *MemoryCatalog) ListProducts(_ context.Context) ([]*model.Product, error) {
	c.mu.RLock()
	out := make([]*model.Product, 0, len(c.products))
	for _, p := range c.products {
		p := p
		out = append(out, &p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Seed writes the catalog's initial quantities into the ledger. Shared
// ledgers that already track a product keep their live count.
func Seed(ctx context.Context, ledger Ledger, products []*model.Product) error {
	init, shared := ledger.(interface {
		SetIfAbsent(ctx context.Context, code string, qty int) (bool, error)
	})
	for _, p := range products {
		if shared {
			if _, err := init.SetIfAbsent(ctx, p.Code, p.Quantity); err != nil {
				return err
			}
			continue
		}
		if err := ledger.Set(ctx, p.Code, p.Quantity); err != nil {
			return err
		}
	}
	return nil
}
