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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

var (
	// ErrPaymentNotFound is returned when an order has no matching payment.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateSuccess is returned when a second SUCCESS record is written for an order.
	ErrDuplicateSuccess = errors.New("order already has a successful payment")
)

// PaymentRepository is the payment store used by the payment processor.
type PaymentRepository interface {
	// Create inserts a payment. A second SUCCESS for the same OrderRef fails
	// with ErrDuplicateSuccess.
	Create(ctx context.Context, payment *model.Payment) error
	// FindByOrderRef returns every payment for an order, newest first.
	FindByOrderRef(ctx context.Context, orderRef string) ([]*model.Payment, error)
	FindSuccessByOrderRef(ctx context.Context, orderRef string) (*model.Payment, error)
}

var paymentSchema = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS payments (
			id              VARCHAR(36) PRIMARY KEY,
			order_ref       VARCHAR(64) NOT NULL,
			amount          NUMERIC(12,2) NOT NULL,
			status          VARCHAR(16) NOT NULL,
			failure_reason  TEXT NOT NULL DEFAULT '',
			transaction_ref VARCHAR(64) NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order_ref ON payments (order_ref, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_success ON payments (order_ref) WHERE status = 'SUCCESS'`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS payments (
			id              TEXT PRIMARY KEY,
			order_ref       TEXT NOT NULL,
			amount          TEXT NOT NULL,
			status          TEXT NOT NULL,
			failure_reason  TEXT NOT NULL DEFAULT '',
			transaction_ref TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order_ref ON payments (order_ref, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_success ON payments (order_ref) WHERE status = 'SUCCESS'`,
	},
}

// OpenSQL opens the payment database for driver postgres or sqlite3.
func OpenSQL(driver, dsn string) (*sql.DB, error) {
	if _, ok := paymentSchema[driver]; !ok {
		return nil, fmt.Errorf("unsupported payment store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s payment store: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// SQLPaymentRepository stores payments through database/sql. The partial
// unique index on SUCCESS rows is what guarantees one success per order.
type SQLPaymentRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLPaymentRepository wraps db. driver selects the schema dialect.
func NewSQLPaymentRepository(db *sql.DB, driver string) *SQLPaymentRepository {
	return &SQLPaymentRepository{db: db, driver: driver}
}

// Migrate creates the payments table and its indexes.
func (r *SQLPaymentRepository) Migrate(ctx context.Context) error {
	stmts, ok := paymentSchema[r.driver]
	if !ok {
		return fmt.Errorf("unsupported payment store driver %q", r.driver)
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate payments: %w", err)
		}
	}
	return nil
}

const insertPayment = `INSERT INTO payments (id, order_ref, amount, status, failure_reason, transaction_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *SQLPaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, insertPayment,
		p.ID, p.OrderRef, p.Amount.StringFixed(2), string(p.Status), p.FailureReason, p.TransactionRef, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSuccess, p.OrderRef)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

const selectPayments = `SELECT id, order_ref, amount, status, failure_reason, transaction_ref, created_at FROM payments`

func (r *SQLPaymentRepository) FindByOrderRef(ctx context.Context, orderRef string) ([]*model.Payment, error) {
	rows, err := r.db.QueryContext(ctx, selectPayments+` WHERE order_ref = $1 ORDER BY created_at DESC`, orderRef)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	return out, nil
}

func (r *SQLPaymentRepository) FindSuccessByOrderRef(ctx context.Context, orderRef string) (*model.Payment, error) {
	row := r.db.QueryRowContext(ctx, selectPayments+` WHERE order_ref = $1 AND status = $2`, orderRef, string(model.PaymentStatusSuccess))
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(s rowScanner) (*model.Payment, error) {
	var (
		p      model.Payment
		status string
	)
	if err := s.Scan(&p.ID, &p.OrderRef, &p.Amount, &status, &p.FailureReason, &p.TransactionRef, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
