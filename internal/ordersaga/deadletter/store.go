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

package deadletter

import (
	"context"
	"sort"
	"sync"
)

// UpdateFunc receives the stored envelope (nil when none exists) and returns
// the envelope to store. Returning an error aborts the update.
type UpdateFunc func(current *Envelope) (*Envelope, error)

// Store persists envelopes keyed by order id.
type Store interface {
	Get(ctx context.Context, orderID string) (*Envelope, error)
	// Update applies fn atomically with respect to other updates of the same order.
	Update(ctx context.Context, orderID string, fn UpdateFunc) (*Envelope, error)
	// List returns the envelopes in state, or every envelope when state is empty.
	List(ctx context.Context, state State) ([]*Envelope, error)
	Counts(ctx context.Context) (map[State]int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.Mutex
	envelopes map[string]*Envelope
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{envelopes: make(map[string]*Envelope)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, orderID string) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return env.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, orderID string, fn UpdateFunc) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.envelopes[orderID].Clone())
	if err != nil {
		return nil, err
	}
	next.OrderID = orderID
	s.envelopes[orderID] = next.Clone()
	return next, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, state State) ([]*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Envelope, 0, len(s.envelopes))
	for _, env := range s.envelopes {
		if state == "" || env.State == state {
			out = append(out, env.Clone())
		}
	}
	sortEnvelopes(out)
	return out, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context) (map[State]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[State]int, len(States))
	for _, env := range s.envelopes {
		counts[env.State]++
	}
	return counts, nil
}

func sortEnvelopes(envs []*Envelope) {
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].FirstAttemptAt.Equal(envs[j].FirstAttemptAt) {
			return envs[i].OrderID < envs[j].OrderID
		}
		return envs[i].FirstAttemptAt.Before(envs[j].FirstAttemptAt)
	})
}
