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
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayQueue 按到期时间排序的延迟队列，每个 key 至多保留一个条目。
//
// 生产者通过 Schedule 放入条目，单个消费者通过 Next 阻塞等待最早到期的条目。
type DelayQueue[T any] struct {
	mu    sync.Mutex
	items delayHeap[T]
	index map[string]*delayItem[T]
	wake  chan struct{}
	now   func() time.Time
}

type delayItem[T any] struct {
	key   string
	due   time.Time
	value T
	pos   int
}

// NewDelayQueue 创建一个空的延迟队列。
func NewDelayQueue[T any]() *DelayQueue[T] {
	return &DelayQueue[T]{
		index: make(map[string]*delayItem[T]),
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Schedule 安排 value 在 due 时刻到期。同一 key 已存在时替换原条目。
func (q *DelayQueue[T]) Schedule(key string, due time.Time, value T) {
	q.mu.Lock()
	if it, ok := q.index[key]; ok {
		it.due = due
		it.value = value
		heap.Fix(&q.items, it.pos)
	} else {
		it := &delayItem[T]{key: key, due: due, value: value}
		heap.Push(&q.items, it)
		q.index[key] = it
	}
	q.mu.Unlock()
	q.signal()
}

// Cancel 移除 key 对应的条目，返回是否存在。
func (q *DelayQueue[T]) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.pos)
	delete(q.index, key)
	return true
}

// Due 返回 key 对应条目的到期时间。
func (q *DelayQueue[T]) Due(key string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[key]
	if !ok {
		return time.Time{}, false
	}
	return it.due, true
}

// Len 返回队列中的条目数。
func (q *DelayQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next 阻塞直到最早的条目到期或 ctx 结束。
func (q *DelayQueue[T]) Next(ctx context.Context) (string, T, error) {
	for {
		q.mu.Lock()
		wait := time.Duration(-1)
		if len(q.items) > 0 {
			top := q.items[0]
			if d := top.due.Sub(q.now()); d > 0 {
				wait = d
			} else {
				heap.Pop(&q.items)
				delete(q.index, top.key)
				q.mu.Unlock()
				return top.key, top.value, nil
			}
		}
		q.mu.Unlock()

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			var zero T
			return "", zero, ctx.Err()
		case <-q.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (q *DelayQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type delayHeap[T any] []*delayItem[T]

func (h delayHeap[T]) Len() int           { return len(h) }
func (h delayHeap[T]) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h delayHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *delayHeap[T]) Push(x any) {
	it := x.(*delayItem[T])
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *delayHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.pos = -1
	*h = old[:n-1]
	return it
}
