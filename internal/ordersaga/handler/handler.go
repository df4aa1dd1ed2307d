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

// Package handler exposes the saga coordinator over an admin HTTP API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innovationmech/ordersaga/internal/ordersaga/deadletter"
	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/internal/ordersaga/repository"
	"github.com/innovationmech/ordersaga/internal/ordersaga/saga"
	"github.com/innovationmech/ordersaga/pkg/resilience"
)

const maxListLimit = 500

// SagaService is the coordinator surface the handler needs.
// *saga.Coordinator implements it.
type SagaService interface {
	CreateOrder(ctx context.Context, req saga.CreateOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, opts repository.ListOptions) ([]*model.Order, error)
	RetryPayment(ctx context.Context, orderID string) (*model.Order, error)
	CircuitBreakerStats(name string) (resilience.CircuitBreakerStats, error)
	ResetCircuitBreaker(name string) error
	DeadLetterStats(ctx context.Context) (deadletter.Stats, error)
	GetDeadLetter(ctx context.Context, orderID string) (*deadletter.Envelope, error)
	ListDeadLetters(ctx context.Context, state deadletter.State) ([]*deadletter.Envelope, error)
	ReprocessDeadLetter(ctx context.Context, orderID string) (*model.Order, error)
	LookupPayment(ctx context.Context, orderRef string) (*model.PaymentResult, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the admin API.
type Handler struct {
	saga      SagaService
	checks    map[string]HealthCheck
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler creates a handler. checks are run by GET /healthz.
func NewHandler(svc SagaService, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		saga:      svc,
		checks:    checks,
		logger:    logger,
		startTime: time.Now(),
	}
}

// OrderResponse is an order plus the classification of its failure.
type OrderResponse struct {
	*model.Order
	FailureKind saga.Kind `json:"failure_kind,omitempty"`
}

func newOrderResponse(order *model.Order) OrderResponse {
	return OrderResponse{Order: order, FailureKind: saga.FailureKind(order)}
}

// RegisterHTTP registers the API routes on router.
func (h *Handler) RegisterHTTP(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.CreateOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/orders/:id/retry-payment", h.RetryPayment)

		v1.GET("/circuit-breakers/:name", h.GetCircuitBreaker)
		v1.POST("/circuit-breakers/:name/reset", h.ResetCircuitBreaker)

		v1.GET("/dead-letters", h.ListDeadLetters)
		v1.GET("/dead-letters/stats", h.DeadLetterStats)
		v1.GET("/dead-letters/:orderId", h.GetDeadLetter)
		v1.POST("/dead-letters/:orderId/reprocess", h.ReprocessDeadLetter)

		v1.GET("/payments/:orderRef", h.LookupPayment)
	}
}

// CreateOrder creates an order and runs its payment saga.
//
//	@Summary	Create an order
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Param		order	body		saga.CreateOrderRequest	true	"Order"
//	@Success	201		{object}	OrderResponse
//	@Failure	400		{object}	map[string]interface{}
//	@Failure	409		{object}	map[string]interface{}
//	@Router		/api/v1/orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	var req saga.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, saga.NewValidationError("malformed request body", err))
		return
	}

	order, err := h.saga.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

// GetOrder returns one order.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.saga.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

// ListOrders lists orders, optionally filtered by ?status=.
func (h *Handler) ListOrders(c *gin.Context) {
	opts := repository.ListOptions{Status: model.OrderStatus(c.Query("status"))}
	var err error
	if opts.Limit, err = queryInt(c, "limit", 50); err != nil {
		h.writeError(c, err)
		return
	}
	if opts.Offset, err = queryInt(c, "offset", 0); err != nil {
		h.writeError(c, err)
		return
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}

	orders, err := h.saga.ListOrders(c.Request.Context(), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "count": len(out)})
}

// RetryPayment re-runs the payment step of a failed order.
func (h *Handler) RetryPayment(c *gin.Context) {
	order, err := h.saga.RetryPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

// GetCircuitBreaker returns a breaker snapshot.
func (h *Handler) GetCircuitBreaker(c *gin.Context) {
	stats, err := h.saga.CircuitBreakerStats(c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ResetCircuitBreaker forces a breaker closed.
func (h *Handler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := h.saga.ResetCircuitBreaker(name); err != nil {
		h.writeError(c, err)
		return
	}
	stats, err := h.saga.CircuitBreakerStats(name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DeadLetterStats returns envelope counts.
func (h *Handler) DeadLetterStats(c *gin.Context) {
	stats, err := h.saga.DeadLetterStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListDeadLetters lists envelopes, optionally filtered by ?state=.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	envs, err := h.saga.ListDeadLetters(c.Request.Context(), deadletter.State(c.Query("state")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": envs, "count": len(envs)})
}

// GetDeadLetter returns the envelope of one order.
func (h *Handler) GetDeadLetter(c *gin.Context) {
	env, err := h.saga.GetDeadLetter(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// ReprocessDeadLetter redelivers a dead-lettered order now.
func (h *Handler) ReprocessDeadLetter(c *gin.Context) {
	order, err := h.saga.ReprocessDeadLetter(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

// LookupPayment asks the processor for the latest payment of an order.
func (h *Handler) LookupPayment(c *gin.Context) {
	result, err := h.saga.LookupPayment(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health runs every registered check.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	details := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			details[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		details[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":         state,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"details":        details,
	})
}

// StatusCode maps a saga error kind to an HTTP status.
func StatusCode(err error) int {
	switch saga.KindOf(err) {
	case saga.KindValidation:
		return http.StatusBadRequest
	case saga.KindNotFound:
		return http.StatusNotFound
	case saga.KindInsufficientStock, saga.KindInvalidStateTransition, saga.KindConflict:
		return http.StatusConflict
	case saga.KindCircuitOpen, saga.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	body := gin.H{
		"code":    saga.KindOf(err),
		"message": err.Error(),
	}
	var sagaErr *saga.Error
	if errors.As(err, &sagaErr) {
		body["message"] = sagaErr.Message
		if sagaErr.OrderID != "" {
			body["order_id"] = sagaErr.OrderID
		}
		if sagaErr.Current != "" {
			body["current_status"] = sagaErr.Current
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, saga.NewValidationError("invalid "+key+" "+strconv.Quote(raw), err)
	}
	return n, nil
}
