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
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Strategy 定义重试退避的策略类型。
type Strategy string

const (
	// StrategyFixed 固定间隔
	StrategyFixed Strategy = "FIXED"
	// StrategyLinear 线性退避
	StrategyLinear Strategy = "LINEAR"
	// StrategyExponential 指数退避
	StrategyExponential Strategy = "EXPONENTIAL"
	// StrategyJittered 指数退避 + 抖动
	StrategyJittered Strategy = "JITTERED"
	// StrategyNone 不重试
	StrategyNone Strategy = "NONE"
)

// BackoffConfig 定义重试次数与退避参数。
type BackoffConfig struct {
	// MaxRetries 最大重试次数（不含首次调用）
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// InitialDelay 首次重试的延迟
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`

	// MaxDelay 延迟上限，0 表示不限制
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`

	// Multiplier 指数退避的倍率
	Multiplier float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`

	// Strategy 退避策略
	Strategy Strategy `json:"strategy" yaml:"strategy" mapstructure:"strategy"`

	// JitterPercent 抖动百分比 [0,100]
	JitterPercent float64 `json:"jitter_percent" yaml:"jitter_percent" mapstructure:"jitter_percent"`
}

// DefaultBackoffConfig 返回指数退避的默认配置。
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		Strategy:      StrategyExponential,
		JitterPercent: 10.0,
	}
}

// FixedBackoff 返回固定间隔的退避配置。
func FixedBackoff(delay time.Duration, maxRetries int) BackoffConfig {
	return BackoffConfig{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		Multiplier:   1,
		Strategy:     StrategyFixed,
	}
}

// Validate 校验配置合法性。
func (c *BackoffConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max_delay cannot be negative")
	}
	if c.Multiplier <= 0 || math.IsNaN(c.Multiplier) || math.IsInf(c.Multiplier, 0) {
		return fmt.Errorf("multiplier must be positive and finite")
	}
	if c.JitterPercent < 0 || c.JitterPercent > 100 {
		return fmt.Errorf("jitter_percent must be between 0 and 100")
	}
	switch c.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential, StrategyJittered, StrategyNone:
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.Strategy)
	}
	return nil
}

// Calculator 基于 BackoffConfig 计算每次重试的延迟，可并发使用。
type Calculator struct {
	cfg BackoffConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCalculator 创建一个延迟计算器。
func NewCalculator(cfg BackoffConfig) *Calculator {
	return &Calculator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay 计算第 attempt 次重试（从 1 开始）的延迟。
func (c *Calculator) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := c.cfg.InitialDelay
	switch c.cfg.Strategy {
	case StrategyFixed:
	case StrategyLinear:
		base = time.Duration(float64(base) * float64(attempt))
	case StrategyExponential, StrategyJittered:
		base = time.Duration(float64(base) * math.Pow(c.cfg.Multiplier, float64(attempt-1)))
	case StrategyNone:
		return 0
	}

	if c.cfg.MaxDelay > 0 && base > c.cfg.MaxDelay {
		base = c.cfg.MaxDelay
	}
	if c.cfg.JitterPercent > 0 {
		base = c.jitter(base)
		if c.cfg.MaxDelay > 0 && base > c.cfg.MaxDelay {
			base = c.cfg.MaxDelay
		}
	}
	if base < 0 {
		base = 0
	}
	return base
}

// jitter 在 [1-p%, 1+p%] 区间随机缩放。
func (c *Calculator) jitter(base time.Duration) time.Duration {
	p := c.cfg.JitterPercent / 100.0
	c.mu.Lock()
	f := c.rng.Float64()
	c.mu.Unlock()
	return time.Duration(float64(base) * (1 - p + 2*p*f))
}
