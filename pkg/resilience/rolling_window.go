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
	"math"
	"sort"
	"time"
)

// rollingWindow 将统计窗口划分为固定宽度的桶，随时间推进淘汰最旧的桶。
// 不是并发安全的，由熔断器的锁保护。
type rollingWindow struct {
	buckets   []Counts
	width     time.Duration
	head      int
	headStart time.Time
	resetAt   time.Time
}

func newRollingWindow(window time.Duration, n int, now time.Time) *rollingWindow {
	return &rollingWindow{
		buckets:   make([]Counts, n),
		width:     window / time.Duration(n),
		headStart: now,
		resetAt:   now,
	}
}

// advance 将头部桶移动到 now 所在的位置，清空滑出窗口的桶。
func (w *rollingWindow) advance(now time.Time) {
	elapsed := now.Sub(w.headStart)
	if elapsed < w.width {
		return
	}
	steps := int(elapsed / w.width)
	n := len(w.buckets)
	if steps >= n {
		for i := range w.buckets {
			w.buckets[i] = Counts{}
		}
		w.head = 0
	} else {
		for i := 0; i < steps; i++ {
			w.head = (w.head + 1) % n
			w.buckets[w.head] = Counts{}
		}
	}
	w.headStart = w.headStart.Add(time.Duration(steps) * w.width)
}

func (w *rollingWindow) record(now time.Time, o outcome) {
	w.advance(now)
	w.buckets[w.head].record(o)
}

func (w *rollingWindow) sum(now time.Time) Counts {
	w.advance(now)
	var total Counts
	for _, b := range w.buckets {
		total.add(b)
	}
	return total
}

func (w *rollingWindow) reset(now time.Time) {
	for i := range w.buckets {
		w.buckets[i] = Counts{}
	}
	w.head = 0
	w.headStart = now
	w.resetAt = now
}

// start 返回当前窗口覆盖的起始时间。
func (w *rollingWindow) start(now time.Time) time.Time {
	w.advance(now)
	s := w.headStart.Add(-time.Duration(len(w.buckets)-1) * w.width)
	if s.Before(w.resetAt) {
		return w.resetAt
	}
	return s
}

// LatencyPercentiles 是最近调用耗时的分位数。
type LatencyPercentiles struct {
	Samples int           `json:"samples"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// latencyRing 保存最近 N 次调用耗时。
type latencyRing struct {
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, size)}
}

func (r *latencyRing) observe(d time.Duration) {
	if len(r.samples) == 0 {
		return
	}
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

func (r *latencyRing) percentiles() LatencyPercentiles {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := make([]time.Duration, n)
	copy(sorted, r.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(p float64) time.Duration {
		idx := int(math.Ceil(p*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return LatencyPercentiles{Samples: n, P50: at(0.50), P95: at(0.95), P99: at(0.99)}
}
