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

package deps

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/internal/ordersaga/config"
	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/internal/ordersaga/saga"
	cfg "github.com/innovationmech/ordersaga/pkg/config"
	"github.com/innovationmech/ordersaga/pkg/config/testutil"
)

func loadConfig(t *testing.T, overrides map[string]interface{}) *config.Config {
	t.Helper()
	sb := testutil.NewSandbox(t)
	sb.WriteYAML("ordersaga.yaml", overrides)

	opts := cfg.DefaultOptions()
	opts.WorkDir = sb.Dir
	c, err := config.Load(opts)
	require.NoError(t, err)
	return c
}

func TestNew_InProcessWithSQLiteStores(t *testing.T) {
	dir := t.TempDir()
	c := loadConfig(t, map[string]interface{}{
		"database":    map[string]interface{}{"driver": "sqlite", "dsn": filepath.Join(dir, "orders.db")},
		"payments_db": map[string]interface{}{"driver": "sqlite3", "dsn": filepath.Join(dir, "payments.db")},
		"processor": map[string]interface{}{
			"min_latency": "0s", "max_latency": "0s", "success_rate": 1.0, "concurrency": 2,
		},
		"messaging": map[string]interface{}{"request_timeout": "5s"},
	})

	d, err := New(context.Background(), c, nil, Options{Coordinator: true, Processor: true})
	require.NoError(t, err)
	require.NotNil(t, d.Coordinator)
	require.NotNil(t, d.Worker)
	assert.NotNil(t, d.OrderDB)
	assert.NotNil(t, d.PaymentDB)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Worker.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
		assert.NoError(t, d.Close())
	}()

	order, err := d.Coordinator.CreateOrder(context.Background(), saga.CreateOrderRequest{
		ProductCode:   "SKU-MOUSE",
		Quantity:      2,
		CustomerID:    "cust-1",
		CustomerEmail: "cust@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaymentSuccess, order.Status)
	assert.Equal(t, "59.00", order.TotalAmount.StringFixed(2))

	stored, err := d.Orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaymentSuccess, stored.Status)

	available, err := d.Ledger.Available(context.Background(), "SKU-MOUSE")
	require.NoError(t, err)
	assert.Equal(t, 118, available)

	checks := d.HealthChecks()
	assert.Contains(t, checks, "order_store")
	assert.Contains(t, checks, "payment_store")
	assert.Contains(t, checks, "payment_breaker")
	for name, check := range checks {
		assert.NoError(t, check(context.Background()), name)
	}

	families, err := d.Metrics.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ordersaga_processor_deliveries_total"])
}

func TestNew_CoordinatorOnly(t *testing.T) {
	c := loadConfig(t, map[string]interface{}{})

	d, err := New(context.Background(), c, nil, Options{Coordinator: true})
	require.NoError(t, err)
	defer d.Close()

	assert.Nil(t, d.Worker)
	assert.Nil(t, d.Payments)
	assert.NotNil(t, d.DeadLetters)
	assert.NotNil(t, d.HTTPMetrics)

	products, err := d.Catalog.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestNew_UnreachableRedis(t *testing.T) {
	c := loadConfig(t, map[string]interface{}{
		"redis": map[string]interface{}{"enabled": true, "addr": "127.0.0.1:1"},
	})

	start := time.Now()
	d, err := New(context.Background(), c, nil, Options{Coordinator: true})
	require.Error(t, err)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, ErrComponent)
}

func TestClose_Idempotent(t *testing.T) {
	var d *Dependencies
	assert.NoError(t, d.Close())

	d = &Dependencies{}
	calls := 0
	d.onClose(func() error { calls++; return nil })
	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.Equal(t, 1, calls)
}
