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

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/innovationmech/ordersaga/internal/ordersaga/deadletter"
	"github.com/innovationmech/ordersaga/internal/ordersaga/model"
	"github.com/innovationmech/ordersaga/internal/ordersaga/repository"
	"github.com/innovationmech/ordersaga/internal/ordersaga/saga"
	"github.com/innovationmech/ordersaga/pkg/resilience"
)

type MockSagaService struct {
	mock.Mock
}

func (m *MockSagaService) CreateOrder(ctx context.Context, req saga.CreateOrderRequest) (*model.Order, error) {
	args := m.Called(ctx, req)
	return orderArg(args)
}

func (m *MockSagaService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	return orderArg(args)
}

func (m *MockSagaService) ListOrders(ctx context.Context, opts repository.ListOptions) ([]*model.Order, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockSagaService) RetryPayment(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	return orderArg(args)
}

func (m *MockSagaService) CircuitBreakerStats(name string) (resilience.CircuitBreakerStats, error) {
	args := m.Called(name)
	return args.Get(0).(resilience.CircuitBreakerStats), args.Error(1)
}

func (m *MockSagaService) ResetCircuitBreaker(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockSagaService) DeadLetterStats(ctx context.Context) (deadletter.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(deadletter.Stats), args.Error(1)
}

func (m *MockSagaService) GetDeadLetter(ctx context.Context, orderID string) (*deadletter.Envelope, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadletter.Envelope), args.Error(1)
}

func (m *MockSagaService) ListDeadLetters(ctx context.Context, state deadletter.State) ([]*deadletter.Envelope, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*deadletter.Envelope), args.Error(1)
}

func (m *MockSagaService) ReprocessDeadLetter(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	return orderArg(args)
}

func (m *MockSagaService) LookupPayment(ctx context.Context, orderRef string) (*model.PaymentResult, error) {
	args := m.Called(ctx, orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentResult), args.Error(1)
}

func orderArg(args mock.Arguments) (*model.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func newTestEngine(svc SagaService, checks map[string]HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewEngine(NewHandler(svc, checks, nil), EngineConfig{CORSOrigins: []string{"*"}})
}

func do(engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func failedOrder(reason string) *model.Order {
	return &model.Order{ID: "o-1", ProductCode: "SKU-1", Quantity: 2, Status: model.OrderStatusPaymentFailed, FailureReason: reason}
}

func TestCreateOrder(t *testing.T) {
	valid := saga.CreateOrderRequest{ProductCode: "SKU-1", Quantity: 2, CustomerID: "c-1", CustomerEmail: "c@example.com"}

	tests := []struct {
		name           string
		body           interface{}
		setupMocks     func(*MockSagaService)
		expectedStatus int
		check          func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "success",
			body: valid,
			setupMocks: func(m *MockSagaService) {
				ref := "txn_1"
				m.On("CreateOrder", mock.Anything, valid).Return(&model.Order{
					ID: "o-1", Status: model.OrderStatusPaymentSuccess, PaymentRef: &ref,
				}, nil)
			},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "o-1", body["id"])
				assert.Equal(t, "PAYMENT_SUCCESS", body["status"])
				assert.Equal(t, "txn_1", body["payment_ref"])
				assert.NotContains(t, body, "failure_kind")
			},
		},
		{
			name: "payment failure is reported in the order",
			body: valid,
			setupMocks: func(m *MockSagaService) {
				m.On("CreateOrder", mock.Anything, valid).Return(failedOrder(model.ReasonCircuitOpen), nil)
			},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "PAYMENT_FAILED", body["status"])
				assert.Equal(t, "circuit-open", body["failure_reason"])
				assert.Equal(t, "CIRCUIT_OPEN", body["failure_kind"])
			},
		},
		{
			name:           "malformed json",
			body:           `{"product_code": `,
			setupMocks:     func(m *MockSagaService) {},
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]interface{}) {
				errBody := body["error"].(map[string]interface{})
				assert.Equal(t, "VALIDATION", errBody["code"])
			},
		},
		{
			name: "insufficient stock",
			body: valid,
			setupMocks: func(m *MockSagaService) {
				m.On("CreateOrder", mock.Anything, valid).
					Return(nil, saga.NewInsufficientStockError("SKU-1", 2, 1, nil))
			},
			expectedStatus: http.StatusConflict,
			check: func(t *testing.T, body map[string]interface{}) {
				errBody := body["error"].(map[string]interface{})
				assert.Equal(t, "INSUFFICIENT_STOCK", errBody["code"])
			},
		},
		{
			name: "internal error",
			body: valid,
			setupMocks: func(m *MockSagaService) {
				m.On("CreateOrder", mock.Anything, valid).
					Return(nil, saga.NewInternalError("o-1", "persist order", errors.New("db down")))
			},
			expectedStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				errBody := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL", errBody["code"])
				assert.Equal(t, "o-1", errBody["order_id"])
				assert.Equal(t, "persist order", errBody["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSagaService{}
			tt.setupMocks(svc)

			w := do(newTestEngine(svc, nil), http.MethodPost, "/api/v1/orders", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.check(t, decode(t, w))
			svc.AssertExpectations(t)
		})
	}
}

func TestRetryPayment(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"success", nil, http.StatusOK},
		{"not found", saga.NewNotFoundError("order", "o-1", nil), http.StatusNotFound},
		{"wrong state", saga.NewInvalidStateTransitionError("o-1", model.OrderStatusPaymentSuccess, model.OrderStatusPaymentProcessing), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSagaService{}
			if tt.err != nil {
				svc.On("RetryPayment", mock.Anything, "o-1").Return(nil, tt.err)
			} else {
				svc.On("RetryPayment", mock.Anything, "o-1").Return(failedOrder(model.ReasonTimeout), nil)
			}

			w := do(newTestEngine(svc, nil), http.MethodPost, "/api/v1/orders/o-1/retry-payment", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}

	t.Run("reports current status", func(t *testing.T) {
		svc := &MockSagaService{}
		svc.On("RetryPayment", mock.Anything, "o-1").Return(nil,
			saga.NewInvalidStateTransitionError("o-1", model.OrderStatusPaymentSuccess, model.OrderStatusPaymentProcessing))

		w := do(newTestEngine(svc, nil), http.MethodPost, "/api/v1/orders/o-1/retry-payment", nil)
		errBody := decode(t, w)["error"].(map[string]interface{})
		assert.Equal(t, "PAYMENT_SUCCESS", errBody["current_status"])
	})
}

func TestGetAndListOrders(t *testing.T) {
	svc := &MockSagaService{}
	svc.On("GetOrder", mock.Anything, "o-1").Return(failedOrder(model.ReasonTimeout), nil)
	svc.On("GetOrder", mock.Anything, "missing").Return(nil, saga.NewNotFoundError("order", "missing", nil))
	svc.On("ListOrders", mock.Anything, repository.ListOptions{Status: model.OrderStatusPaymentFailed, Limit: 10}).
		Return([]*model.Order{failedOrder(model.ReasonTimeout)}, nil)
	engine := newTestEngine(svc, nil)

	w := do(engine, http.MethodGet, "/api/v1/orders/o-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TRANSPORT", decode(t, w)["failure_kind"])

	w = do(engine, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(engine, http.MethodGet, "/api/v1/orders?status=PAYMENT_FAILED&limit=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(engine, http.MethodGet, "/api/v1/orders?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

func TestCircuitBreakerEndpoints(t *testing.T) {
	svc := &MockSagaService{}
	stats := resilience.CircuitBreakerStats{Name: "payment-processor", State: resilience.StateClosed}
	svc.On("ResetCircuitBreaker", "payment-processor").Return(nil)
	svc.On("CircuitBreakerStats", "payment-processor").Return(stats, nil)
	svc.On("CircuitBreakerStats", "unknown").
		Return(resilience.CircuitBreakerStats{}, saga.NewNotFoundError("circuit breaker", "unknown", nil))
	engine := newTestEngine(svc, nil)

	w := do(engine, http.MethodGet, "/api/v1/circuit-breakers/payment-processor", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payment-processor", decode(t, w)["name"])

	w = do(engine, http.MethodPost, "/api/v1/circuit-breakers/payment-processor/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodGet, "/api/v1/circuit-breakers/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.AssertExpectations(t)
}

func TestDeadLetterEndpoints(t *testing.T) {
	svc := &MockSagaService{}
	svc.On("DeadLetterStats", mock.Anything).Return(deadletter.Stats{PendingCount: 2, PermanentFailureCount: 1}, nil)
	svc.On("GetDeadLetter", mock.Anything, "o-1").Return(&deadletter.Envelope{OrderID: "o-1", State: deadletter.StateScheduled, AttemptCount: 1}, nil)
	svc.On("ListDeadLetters", mock.Anything, deadletter.StatePermanent).Return([]*deadletter.Envelope{{OrderID: "o-2"}}, nil)
	svc.On("ReprocessDeadLetter", mock.Anything, "o-1").Return(nil, saga.NewConflictError("o-1", "reprocess already in progress", deadletter.ErrReprocessInProgress))
	svc.On("ReprocessDeadLetter", mock.Anything, "o-2").Return(&model.Order{ID: "o-2", Status: model.OrderStatusPaymentSuccess}, nil)
	engine := newTestEngine(svc, nil)

	w := do(engine, http.MethodGet, "/api/v1/dead-letters/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["pending_count"])

	w = do(engine, http.MethodGet, "/api/v1/dead-letters/o-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SCHEDULED", decode(t, w)["state"])

	w = do(engine, http.MethodGet, "/api/v1/dead-letters?state=PERMANENT", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(engine, http.MethodPost, "/api/v1/dead-letters/o-1/reprocess", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(engine, http.MethodPost, "/api/v1/dead-letters/o-2/reprocess", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PAYMENT_SUCCESS", decode(t, w)["status"])

	svc.AssertExpectations(t)
}

func TestLookupPayment(t *testing.T) {
	svc := &MockSagaService{}
	svc.On("LookupPayment", mock.Anything, "o-1").Return(&model.PaymentResult{OrderRef: "o-1", Status: model.PaymentStatusSuccess}, nil)
	svc.On("LookupPayment", mock.Anything, "o-2").Return(nil, &saga.Error{Kind: saga.KindCircuitOpen, Message: "payment lookup failed"})
	engine := newTestEngine(svc, nil)

	w := do(engine, http.MethodGet, "/api/v1/payments/o-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodGet, "/api/v1/payments/o-2", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	svc.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	healthy := newTestEngine(&MockSagaService{}, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	w := do(healthy, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	unhealthy := newTestEngine(&MockSagaService{}, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = do(unhealthy, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	details := decode(t, w)["details"].(map[string]interface{})
	assert.Equal(t, "connection refused", details["redis"])
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{saga.NewValidationError("x", nil), http.StatusBadRequest},
		{saga.NewNotFoundError("order", "x", nil), http.StatusNotFound},
		{saga.NewInsufficientStockError("SKU", 1, 0, nil), http.StatusConflict},
		{saga.NewConflictError("x", "busy", nil), http.StatusConflict},
		{&saga.Error{Kind: saga.KindTransport}, http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestEngineMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &MockSagaService{}
	svc.On("GetOrder", mock.Anything, "o-1").Return(failedOrder(model.ReasonTimeout), nil)

	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(reg, "ordersaga")
	engine := NewEngine(NewHandler(svc, nil, nil), EngineConfig{
		CORSOrigins: []string{"https://ops.example.com"},
		Gatherer:    reg,
		Metrics:     metrics,
		Tracer:      noop.NewTracerProvider().Tracer("test"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("GET", "/api/v1/orders/:id", "200")))

	w = do(engine, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "ordersaga_http_requests_total"))
}
