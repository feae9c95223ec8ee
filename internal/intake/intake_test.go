package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/iq-capture/internal/testutil"
)

func TestChannel_PerProducerOrder(t *testing.T) {
	c := New(16)
	ctx := context.Background()

	for i := byte(0); i < 5; i++ {
		require.NoError(t, c.Send(ctx, [][]byte{{i}}))
	}
	assert.Equal(t, 5, c.Len())

	for i := byte(0); i < 5; i++ {
		msg := testutil.RequireReceive(t, c.Messages(), time.Second, "queued message")
		assert.Equal(t, [][]byte{{i}}, msg)
	}
}

func TestChannel_SendBlocksUntilDeadlineWhenFull(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Send(context.Background(), [][]byte{[]byte("a")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, [][]byte{[]byte("b")})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestChannel_Close(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Send(context.Background(), [][]byte{[]byte("a")}))

	blocked := make(chan error, 1)
	go func() { blocked <- c.Send(context.Background(), [][]byte{[]byte("b")}) }()

	c.Close()
	c.Close()

	err := testutil.RequireReceive(t, blocked, time.Second, "blocked sender released")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Send(context.Background(), nil), ErrClosed)

	select {
	case <-c.Closed():
	default:
		t.Fatal("Closed() should be closed")
	}
}

func TestListener_QueuesExternalMessages(t *testing.T) {
	endpoint := testutil.Endpoint(t)
	out := New(64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewListener(endpoint, out, WithListenerLogger(testutil.Logger()))
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	pub := zmq4.NewPub(ctx)
	defer pub.Close()
	require.NoError(t, pub.Dial(endpoint))

	want := [][]byte{[]byte("rx_stream"), {1, 2, 3, 4, 5, 6, 7, 8}, {0, 1, 0, 2}}

	// PUB drops messages until the subscription has propagated
	var got [][]byte
	require.Eventually(t, func() bool {
		if err := pub.SendMulti(zmq4.NewMsgFrom(want...)); err != nil {
			return false
		}
		select {
		case got = <-out.Messages():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, got)

	out.Close()
	err := testutil.RequireReceive(t, done, 3*time.Second, "listener exit")
	assert.NoError(t, err)
}
