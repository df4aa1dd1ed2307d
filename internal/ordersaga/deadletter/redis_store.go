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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each envelope as a JSON document plus one set of order ids
// per state. Updates run inside WATCH/MULTI on the envelope key.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

// NewRedisStore creates a store whose keys live under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, maxRetries: 5}
}

func (s *RedisStore) key(parts ...string) string {
	k := "deadletter"
	if s.prefix != "" {
		k = s.prefix + ":" + k
	}
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) envelopeKey(orderID string) string { return s.key("envelope", orderID) }
func (s *RedisStore) stateKey(state State) string       { return s.key("state", string(state)) }

type bytesGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c bytesGetter, orderID string) (*Envelope, error) {
	raw, err := c.Get(ctx, s.envelopeKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read envelope %s: %w", orderID, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", orderID, err)
	}
	return &env, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, orderID string) (*Envelope, error) {
	return s.read(ctx, s.client, orderID)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, orderID string, fn UpdateFunc) (*Envelope, error) {
	key := s.envelopeKey(orderID)
	var result *Envelope

	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, orderID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		next.OrderID = orderID
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode envelope %s: %w", orderID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if current != nil && current.State != next.State {
				pipe.SRem(ctx, s.stateKey(current.State), orderID)
			}
			pipe.SAdd(ctx, s.stateKey(next.State), orderID)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update envelope %s: %w", orderID, ErrStateConflict)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, state State) ([]*Envelope, error) {
	states := States
	if state != "" {
		states = []State{state}
	}

	var out []*Envelope
	for _, st := range states {
		ids, err := s.client.SMembers(ctx, s.stateKey(st)).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s envelopes: %w", st, err)
		}
		for _, id := range ids {
			env, err := s.read(ctx, s.client, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, env)
		}
	}
	sortEnvelopes(out)
	return out, nil
}

// Counts implements Store.
func (s *RedisStore) Counts(ctx context.Context) (map[State]int, error) {
	cmds := make(map[State]*redis.IntCmd, len(States))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range States {
			cmds[st] = pipe.SCard(ctx, s.stateKey(st))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count envelopes: %w", err)
	}
	counts := make(map[State]int, len(States))
	for st, cmd := range cmds {
		counts[st] = int(cmd.Val())
	}
	return counts, nil
}
