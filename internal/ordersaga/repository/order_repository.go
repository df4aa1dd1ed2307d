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

// Package repository persists orders and payment records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
)

var (
	// ErrOrderNotFound is returned when no order has the requested id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVersionConflict is returned when an update raced with another writer.
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// ListOptions filters List. A zero Limit means no limit.
type ListOptions struct {
	Status model.OrderStatus
	Limit  int
	Offset int
}

// OrderRepository is the order store used by the saga coordinator.
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	// Update persists status changes. It fails with ErrVersionConflict when
	// order.Version no longer matches the stored row, and bumps Version on success.
	Update(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	List(ctx context.Context, opts ListOptions) ([]*model.Order, error)
}

// OpenGorm opens the order database for driver mysql or sqlite.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported order store driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s order store: %w", driver, err)
	}
	return db, nil
}

// gormOrderRepository is the gorm implementation of OrderRepository.
type gormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a gorm backed order repository.
func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &gormOrderRepository{db: db}
}

// Migrate creates the orders table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Order{})
}

func (r *gormOrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormOrderRepository) Update(ctx context.Context, order *model.Order) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":         order.Status,
			"payment_ref":    order.PaymentRef,
			"failure_reason": order.FailureReason,
			"updated_at":     now,
			"version":        order.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrVersionConflict, order.ID)
	}
	order.Version++
	order.UpdatedAt = now
	return nil
}

func (r *gormOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

func (r *gormOrderRepository) List(ctx context.Context, opts ListOptions) ([]*model.Order, error) {
	var orders []*model.Order
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
