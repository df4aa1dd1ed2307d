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
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		&model.Product{Code: "B", Price: decimal.NewFromInt(2), Active: true},
		&model.Product{Code: "A", Price: decimal.NewFromInt(1), Active: true},
	)

	p, err := c.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(1)))

	p.Name = "mutated"
	again, _ := c.GetProduct(ctx, "A")
	assert.Empty(t, again.Name)

	_, err = c.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)

	all, err := c.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Code)
}

// ledgerContract runs the same checks against every Ledger implementation.
func ledgerContract(t *testing.T, l Ledger) {
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, "SKU-1", 10))

	require.NoError(t, l.Reserve(ctx, "SKU-1", 3))
	n, err := l.Available(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	err = l.Reserve(ctx, "SKU-1", 8)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	n, _ = l.Available(ctx, "SKU-1")
	assert.Equal(t, 7, n)

	require.NoError(t, l.Release(ctx, "SKU-1", 3))
	n, _ = l.Available(ctx, "SKU-1")
	assert.Equal(t, 10, n)

	assert.ErrorIs(t, l.Reserve(ctx, "SKU-1", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Release(ctx, "SKU-1", -1), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Set(ctx, "SKU-1", -1), ErrInvalidQuantity)

	n, err = l.Available(ctx, "SKU-UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, l.Reserve(ctx, "SKU-UNKNOWN", 1), ErrInsufficientStock)

	// Concurrent reservations never oversell.
	require.NoError(t, l.Set(ctx, "SKU-2", 20))
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, "SKU-2", 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	n, _ = l.Available(ctx, "SKU-2")
	assert.Equal(t, 20-granted, n)
	assert.GreaterOrEqual(t, n, 0)
}

func TestMemoryLedger(t *testing.T) {
	ledgerContract(t, NewMemoryLedger())
}

func TestMemoryLedger_ConcurrentExactlyDrains(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Set(ctx, "SKU", 50))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Reserve(ctx, "SKU", 1)
		}()
	}
	wg.Wait()

	n, _ := l.Available(ctx, "SKU")
	assert.Equal(t, 0, n)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, Seed(ctx, l, []*model.Product{{Code: "A", Quantity: 4}, {Code: "B", Quantity: 0}}))
	n, _ := l.Available(ctx, "A")
	assert.Equal(t, 4, n)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis is not available for testing:", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisLedger(t *testing.T) {
	client := newTestRedis(t)
	l, err := NewRedisLedger(client, "ordersaga-test", nil)
	require.NoError(t, err)
	ledgerContract(t, l)
}

func TestSeed_KeepsLiveRedisStock(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	l, err := NewRedisLedger(client, "ordersaga-seed", nil)
	require.NoError(t, err)

	require.NoError(t, Seed(ctx, l, []*model.Product{{Code: "A", Quantity: 10}}))
	require.NoError(t, l.Reserve(ctx, "A", 4))
	require.NoError(t, Seed(ctx, l, []*model.Product{{Code: "A", Quantity: 10}, {Code: "B", Quantity: 3}}))

	a, err := l.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 6, a)
	b, err := l.Available(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 3, b)
}
