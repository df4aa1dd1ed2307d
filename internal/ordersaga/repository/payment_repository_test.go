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
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

func newPayment(orderRef string, status model.PaymentStatus) *model.Payment {
	p := &model.Payment{
		ID:       uuid.NewString(),
		OrderRef: orderRef,
		Amount:   decimal.RequireFromString("42.50"),
		Status:   status,
	}
	if status == model.PaymentStatusSuccess {
		p.TransactionRef = "txn-" + p.ID[:8]
	} else {
		p.FailureReason = "Payment declined by issuer"
	}
	return p
}

func paymentRepoContract(t *testing.T, repo PaymentRepository) {
	ctx := context.Background()

	_, err := repo.FindSuccessByOrderRef(ctx, "o-1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	failed := newPayment("o-1", model.PaymentStatusFailed)
	failed.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.Create(ctx, newPayment("o-1", model.PaymentStatusFailed)))

	success := newPayment("o-1", model.PaymentStatusSuccess)
	require.NoError(t, repo.Create(ctx, success))

	err = repo.Create(ctx, newPayment("o-1", model.PaymentStatusSuccess))
	assert.ErrorIs(t, err, ErrDuplicateSuccess)

	got, err := repo.FindSuccessByOrderRef(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, success.ID, got.ID)
	assert.Equal(t, success.TransactionRef, got.TransactionRef)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("42.5")))

	all, err := repo.FindByOrderRef(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, failed.ID, all[len(all)-1].ID)

	none, err := repo.FindByOrderRef(ctx, "o-2")
	require.NoError(t, err)
	assert.Empty(t, none)

	// Racing writers still end with a single success.
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Create(ctx, newPayment("o-race", model.PaymentStatusSuccess)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryPaymentRepository(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	paymentRepoContract(t, repo)
	assert.Equal(t, 1, repo.CountSuccess("o-1"))
}

func TestSQLPaymentRepository_SQLite(t *testing.T) {
	db, err := OpenSQL("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLPaymentRepository(db, "sqlite3")
	require.NoError(t, repo.Migrate(context.Background()))
	paymentRepoContract(t, repo)
}

func TestSQLPaymentRepository_PostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	repo := NewSQLPaymentRepository(db, "postgres")
	err = repo.Create(context.Background(), newPayment("o-1", model.PaymentStatusSuccess))
	assert.ErrorIs(t, err, ErrDuplicateSuccess)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPaymentRepository_PostgresQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, order_ref, amount, status, failure_reason, transaction_ref, created_at FROM payments WHERE order_ref = $1 AND status = $2")).
		WithArgs("o-1", "SUCCESS").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_ref", "amount", "status", "failure_reason", "transaction_ref", "created_at"}).
			AddRow("p-1", "o-1", []byte("10.00"), "SUCCESS", "", "txn-1", now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE order_ref = $1 AND status = $2")).
		WithArgs("o-2", "SUCCESS").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE order_ref = $1 ORDER BY created_at DESC")).
		WithArgs("o-3").
		WillReturnError(errors.New("connection reset"))

	repo := NewSQLPaymentRepository(db, "postgres")
	ctx := context.Background()

	p, err := repo.FindSuccessByOrderRef(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", p.TransactionRef)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(10)))

	_, err = repo.FindSuccessByOrderRef(ctx, "o-2")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = repo.FindByOrderRef(ctx, "o-3")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL("oracle", "dsn")
	assert.Error(t, err)
}
