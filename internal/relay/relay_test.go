package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/iq-capture/internal/intake"
	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/metrics"
	tu "github.com/roman-kulish/iq-capture/internal/testutil"
)

type rejectingForwarder struct {
	calls atomic.Int32
}

func (f *rejectingForwarder) Forward(context.Context, [][]byte) error {
	f.calls.Add(1)
	return errors.New("intake full")
}

func startPublisher(t *testing.T) (zmq4.Socket, string) {
	t.Helper()

	endpoint := tu.Endpoint(t)
	pub := zmq4.NewPub(context.Background())
	t.Cleanup(func() { _ = pub.Close() })
	require.NoError(t, pub.Listen(endpoint))

	return pub, endpoint
}

func startRelay(t *testing.T, r *Relay, out Forwarder) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, out) }()

	return cancel, done
}

func TestRelay_ForwardsFramesUnchanged(t *testing.T) {
	pub, endpoint := startPublisher(t)
	out := intake.New(64)

	r := New(iq.RX, endpoint, iq.TopicRX, WithLogger(tu.Logger()))
	cancel, done := startRelay(t, r, out)

	want := iq.EncodeFrame(iq.DefaultTopics(), &iq.Frame{
		Direction: iq.RX,
		Timestamp: 1000,
		Antennas:  [][]iq.Sample{{{Real: 100, Imag: -50}, {Real: 0, Imag: 32767}}},
	})

	// the subscription takes a moment to reach the publisher
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

	cancel()
	assert.NoError(t, tu.RequireReceive(t, done, 2*time.Second, "relay exit"))
	assert.False(t, r.IsRunning())
	assert.GreaterOrEqual(t, r.Stats().Forwarded, uint64(1))
}

func TestRelay_IgnoresOtherTopic(t *testing.T) {
	pub, endpoint := startPublisher(t)
	out := intake.New(256)

	r := New(iq.TX, endpoint, iq.TopicTX, WithLogger(tu.Logger()))
	cancel, done := startRelay(t, r, out)

	rx := [][]byte{[]byte(iq.TopicRX), iq.EncodeTimestamp(1)}
	tx := [][]byte{[]byte(iq.TopicTX), iq.EncodeTimestamp(2)}

	require.Eventually(t, func() bool {
		_ = pub.SendMulti(zmq4.NewMsgFrom(rx...))
		_ = pub.SendMulti(zmq4.NewMsgFrom(tx...))
		return r.Stats().Forwarded > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	tu.RequireReceive(t, done, 2*time.Second, "relay exit")

	for out.Len() > 0 {
		msg := <-out.Messages()
		assert.Equal(t, iq.TopicTX, string(msg[0]))
	}
}

func TestRelay_StopsWithinPollInterval(t *testing.T) {
	_, endpoint := startPublisher(t)

	poll := 100 * time.Millisecond
	r := New(iq.RX, endpoint, iq.TopicRX, WithLogger(tu.Logger()), WithPollInterval(poll))
	cancel, done := startRelay(t, r, intake.New(1))

	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)
	time.Sleep(3 * poll)

	start := time.Now()
	cancel()
	tu.RequireReceive(t, done, time.Second, "relay exit")

	assert.Less(t, time.Since(start), 2*poll+100*time.Millisecond)
}

func TestRelay_StopsWhenPublisherUnreachable(t *testing.T) {
	endpoint := tu.Endpoint(t)

	poll := 100 * time.Millisecond
	r := New(iq.RX, endpoint, iq.TopicRX, WithLogger(tu.Logger()), WithPollInterval(poll))
	cancel, done := startRelay(t, r, intake.New(1))

	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)

	start := time.Now()
	cancel()
	tu.RequireReceive(t, done, time.Second, "relay exit")

	assert.Less(t, time.Since(start), 2*poll+100*time.Millisecond)
}

func TestRelay_DropsRejectedFrames(t *testing.T) {
	pub, endpoint := startPublisher(t)
	m := metrics.New()
	out := &rejectingForwarder{}

	r := New(iq.RX, endpoint, iq.TopicRX,
		WithLogger(tu.Logger()),
		WithMetrics(m),
		WithForwardTimeout(10*time.Millisecond))
	cancel, done := startRelay(t, r, out)

	frame := [][]byte{[]byte(iq.TopicRX), iq.EncodeTimestamp(1), make([]byte, 4)}
	require.Eventually(t, func() bool {
		_ = pub.SendMulti(zmq4.NewMsgFrom(frame...))
		return r.Stats().Dropped >= 3
	}, 5*time.Second, 10*time.Millisecond)

	// still relaying after drops
	assert.True(t, r.IsRunning())

	cancel()
	tu.RequireReceive(t, done, 2*time.Second, "relay exit")

	stats := r.Stats()
	assert.Zero(t, stats.Forwarded)
	assert.Equal(t, stats.Received, stats.Dropped)
	assert.Equal(t, float64(stats.Dropped), testutil.ToFloat64(m.RelayDropped.WithLabelValues("rx")))
	assert.Equal(t, float64(stats.Received)*float64(size(frame)), testutil.ToFloat64(m.RelayBytes.WithLabelValues("rx")))
}

func TestRelay_AlreadyRunning(t *testing.T) {
	_, endpoint := startPublisher(t)

	r := New(iq.RX, endpoint, iq.TopicRX, WithLogger(tu.Logger()))
	cancel, done := startRelay(t, r, intake.New(1))
	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, r.Run(context.Background(), intake.New(1)), ErrAlreadyRunning)

	cancel()
	tu.RequireReceive(t, done, 2*time.Second, "relay exit")
}
