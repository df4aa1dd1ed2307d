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

package resilience

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrBreakerNotFound 表示注册表中不存在指定名称的熔断器
	ErrBreakerNotFound = errors.New("circuit breaker not found")

	// ErrBreakerExists 表示同名熔断器已经注册
	ErrBreakerExists = errors.New("circuit breaker already registered")
)

// Registry 按下游依赖名称持有熔断器实例。
//
// 注册表由进程创建并注入到调用方，同一依赖的所有调用共享同一个实例。
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
	logger   *zap.Logger
	prom     *CircuitBreakerPrometheusMetrics
}

// RegistryOption 配置 Registry。
type RegistryOption func(*Registry)

// WithRegistryLogger 设置状态变更日志使用的 logger。
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPrometheusMetrics 为注册表中的所有熔断器启用 Prometheus 指标。
func WithPrometheusMetrics(p *CircuitBreakerPrometheusMetrics) RegistryOption {
	return func(r *Registry) { r.prom = p }
}

// NewRegistry 创建注册表，defaults 作为 GetOrCreate 新建实例时的配置模板。
func NewRegistry(defaults CircuitBreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 使用给定配置注册一个熔断器。
func (r *Registry) Register(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[config.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBreakerExists, config.Name)
	}
	return r.create(config)
}

// GetOrCreate 返回指定名称的熔断器，不存在时按默认配置创建。
func (r *Registry) GetOrCreate(name string) (*CircuitBreaker, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}
	config := r.defaults
	config.Name = name
	return r.create(config)
}

// Get 返回已注册的熔断器。
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cb, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBreakerNotFound, name)
	}
	return cb, nil
}

// Stats 返回指定熔断器的统计快照。
func (r *Registry) Stats(name string) (CircuitBreakerStats, error) {
	cb, err := r.Get(name)
	if err != nil {
		return CircuitBreakerStats{}, err
	}
	return cb.Stats(), nil
}

// Reset 强制关闭指定熔断器。
func (r *Registry) Reset(name string) error {
	cb, err := r.Get(name)
	if err != nil {
		return err
	}
	cb.Reset()
	r.logger.Info("circuit breaker reset", zap.String("breaker", name))
	return nil
}

// Names 返回已注册的熔断器名称（已排序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) create(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	userHook := config.OnStateChange
	logger := r.logger
	config.OnStateChange = func(name string, from, to State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	cb, err := NewCircuitBreaker(config)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker %q: %w", config.Name, err)
	}
	if r.prom != nil {
		cb.prom = r.prom
		r.prom.State.WithLabelValues(cb.name).Set(float64(StateClosed))
	}
	r.breakers[config.Name] = cb
	return cb, nil
}
