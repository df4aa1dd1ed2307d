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
	"time"
)

// CircuitBreakerConfig 定义熔断器的配置参数。
//
// 熔断器在滚动窗口内统计调用结果，当调用量达到 VolumeThreshold 且失败率
// 达到 ErrorThresholdPercentage 时打开；打开 ResetTimeout 之后进入半开状态，
// 半开状态下只放行一次试探调用。
type CircuitBreakerConfig struct {
	// Name 熔断器名称，对应一个逻辑下游依赖
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Timeout 单次调用超时，超时按失败计入
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// ErrorThresholdPercentage 失败率阈值（百分比，0-100）
	ErrorThresholdPercentage float64 `json:"error_threshold_percentage" yaml:"error_threshold_percentage" mapstructure:"error_threshold_percentage"`

	// RollingWindow 滚动统计窗口长度
	RollingWindow time.Duration `json:"rolling_window" yaml:"rolling_window" mapstructure:"rolling_window"`

	// RollingBuckets 滚动窗口划分的桶数
	RollingBuckets int `json:"rolling_buckets" yaml:"rolling_buckets" mapstructure:"rolling_buckets"`

	// ResetTimeout 打开状态持续时间，超时后进入半开状态
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout" mapstructure:"reset_timeout"`

	// VolumeThreshold 窗口内最小调用量，未达到时不评估失败率
	VolumeThreshold uint32 `json:"volume_threshold" yaml:"volume_threshold" mapstructure:"volume_threshold"`

	// LatencySamples 用于计算延迟分位数的样本数
	LatencySamples int `json:"latency_samples" yaml:"latency_samples" mapstructure:"latency_samples"`

	// IsSuccessful 判断结果是否成功，未设置时 error == nil 视为成功
	IsSuccessful func(err error) bool `json:"-" yaml:"-" mapstructure:"-"`

	// OnStateChange 状态变化回调，在持有内部锁时调用，不能回调熔断器自身
	OnStateChange func(name string, from State, to State) `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig 返回熔断器的默认配置。
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                     "default",
		Timeout:                  30 * time.Second,
		ErrorThresholdPercentage: 50,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		ResetTimeout:             30 * time.Second,
		VolumeThreshold:          5,
		LatencySamples:           128,
	}
}

// Validate 校验配置合法性。
func (c *CircuitBreakerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("circuit breaker name cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ErrorThresholdPercentage <= 0 || c.ErrorThresholdPercentage > 100 {
		return fmt.Errorf("error_threshold_percentage must be in (0, 100]")
	}
	if c.RollingWindow <= 0 {
		return fmt.Errorf("rolling_window must be positive")
	}
	if c.RollingBuckets <= 0 {
		return fmt.Errorf("rolling_buckets must be greater than 0")
	}
	if c.RollingWindow/time.Duration(c.RollingBuckets) <= 0 {
		return fmt.Errorf("rolling_window is too short for %d buckets", c.RollingBuckets)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be positive")
	}
	if c.VolumeThreshold == 0 {
		return fmt.Errorf("volume_threshold must be greater than 0")
	}
	if c.LatencySamples < 0 {
		return fmt.Errorf("latency_samples cannot be negative")
	}
	return nil
}

// State 表示熔断器的状态。
type State int

const (
	// StateClosed 关闭状态，正常处理请求
	StateClosed State = iota
	// StateHalfOpen 半开状态，只放行一次试探调用
	StateHalfOpen
	// StateOpen 打开状态，直接拒绝请求
	StateOpen
)

// String 返回状态的字符串表示。
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText 以字符串形式序列化状态。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Counts 记录滚动窗口内的调用统计。
type Counts struct {
	// Requests 已执行的调用数（成功 + 失败 + 超时）
	Requests uint32 `json:"requests"`
	// Successes 成功数
	Successes uint32 `json:"successes"`
	// Failures 失败数（不含超时）
	Failures uint32 `json:"failures"`
	// Timeouts 超时数
	Timeouts uint32 `json:"timeouts"`
	// Rejections 被熔断器直接拒绝的调用数，不计入 Requests
	Rejections uint32 `json:"rejections"`
}

// FailureRate 计算失败率（0-1），超时计为失败。
func (c Counts) FailureRate() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures+c.Timeouts) / float64(c.Requests)
}

func (c *Counts) add(o Counts) {
	c.Requests += o.Requests
	c.Successes += o.Successes
	c.Failures += o.Failures
	c.Timeouts += o.Timeouts
	c.Rejections += o.Rejections
}

func (c *Counts) record(o outcome) {
	switch o {
	case outcomeSuccess:
		c.Requests++
		c.Successes++
	case outcomeFailure:
		c.Requests++
		c.Failures++
	case outcomeTimeout:
		c.Requests++
		c.Timeouts++
	case outcomeRejected:
		c.Rejections++
	}
}

// outcome 是一次调用的结果分类。
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeRejected
	// outcomeIgnored 调用方取消，不计入统计
	outcomeIgnored
)
