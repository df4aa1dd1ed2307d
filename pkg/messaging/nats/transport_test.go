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

package nats

import (
	"context"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/ordersaga/pkg/messaging"
)

// These tests do not need a running NATS server.

func TestTransport_NilConnection(t *testing.T) {
	tr := NewTransport(nil, DefaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := tr.Request(ctx, "payments.requests", []byte("ping"))
	require.Error(t, err)
	assert.True(t, messaging.IsConnectionError(err))

	_, err = tr.Consume(ctx, "payments.requests")
	assert.True(t, messaging.IsConnectionError(err))
	assert.NoError(t, tr.Close())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RequestTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestDial_InvalidConfig(t *testing.T) {
	_, err := Dial(Config{}, nil)
	assert.Error(t, err)
}

func TestDelivery_SettleAndReply(t *testing.T) {
	msg := natsgo.NewMsg("payments.requests")
	msg.Data = []byte(`{"kind":"charge"}`)
	msg.Header.Set(natsgo.MsgIdHdr, "msg-1")
	msg.Header.Set("Trace", "abc")

	d := newDelivery(msg, nil)
	assert.Equal(t, "msg-1", d.ID())
	assert.Equal(t, `{"kind":"charge"}`, string(d.Body()))
	assert.Equal(t, "abc", d.Headers()["Trace"])
	assert.Equal(t, "payments.requests", d.Headers()["subject"])

	assert.ErrorIs(t, d.Reply(context.Background(), []byte("ok")), messaging.ErrNoReplyAddress)

	require.NoError(t, d.Ack())
	assert.ErrorIs(t, d.Reject(), messaging.ErrAlreadySettled)
}

func TestDelivery_GeneratesID(t *testing.T) {
	d := newDelivery(&natsgo.Msg{Subject: "payments.requests"}, nil)
	assert.NotEmpty(t, d.ID())
}
