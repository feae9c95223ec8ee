package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/metrics"
)

const (
	// DefaultPollInterval bounds how long the relay waits for a frame before it
	// re-checks the stop signal
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultForwardTimeout bounds how long a frame may wait for the writer intake
	// before it is dropped
	DefaultForwardTimeout = 250 * time.Millisecond

	dialRetry      = 100 * time.Millisecond
	dialMaxRetries = 2
)

// ErrAlreadyRunning is returned when Run is called on a relay that is running
var ErrAlreadyRunning = errors.New("relay is already running")

// Forwarder is the destination of relayed frames, normally the writer intake
type Forwarder interface {
	Forward(ctx context.Context, parts [][]byte) error
}

// WithLogger sets the logger for the relay
func WithLogger(logger *slog.Logger) func(*Relay) {
	return func(r *Relay) {
		r.logger = logger.With(
			slog.String("relay", r.direction.String()),
			slog.String("endpoint", r.endpoint),
			slog.String("topic", r.topic),
		)
	}
}

// WithMetrics sets the metrics the relay records to
func WithMetrics(m *metrics.Metrics) func(*Relay) {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithPollInterval sets the bounded wait of the receive loop
func WithPollInterval(d time.Duration) func(*Relay) {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithForwardTimeout sets how long a frame may wait for the destination
func WithForwardTimeout(d time.Duration) func(*Relay) {
	return func(r *Relay) {
		if d > 0 {
			r.forwardTimeout = d
		}
	}
}

// Stats are the relay's own frame counters
type Stats struct {
	Received  uint64
	Forwarded uint64
	Dropped   uint64
}

// Relay subscribes to one stream of the base station publisher and forwards every
// frame, undecoded, to a Forwarder
type Relay struct {
	direction iq.Direction
	endpoint  string
	topic     string

	pollInterval   time.Duration
	forwardTimeout time.Duration

	isRunning atomic.Bool

	mu           sync.Mutex
	socket       zmq4.Socket
	cancelSocket context.CancelFunc

	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a relay for one direction, subscribing to topic on endpoint
func New(direction iq.Direction, endpoint, topic string, options ...func(*Relay)) *Relay {
	r := Relay{
		direction:      direction,
		endpoint:       endpoint,
		topic:          topic,
		pollInterval:   DefaultPollInterval,
		forwardTimeout: DefaultForwardTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Direction returns the direction the relay serves
func (r *Relay) Direction() iq.Direction {
	return r.direction
}

// IsRunning returns true while Run is executing
func (r *Relay) IsRunning() bool {
	return r.isRunning.Load()
}

// Stats returns a snapshot of the relay counters
func (r *Relay) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Forwarded: r.forwarded.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Run relays frames to out until ctx is cancelled, then closes the socket and returns.
//
// The receive loop never blocks longer than the poll interval without re-checking
// ctx, so cancellation is observed within one interval even if the publisher is
// silent or unreachable. Frames that out does not accept within the forward timeout
// are dropped and the relay keeps going.
func (r *Relay) Run(ctx context.Context, out Forwarder) error {
	if !r.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.isRunning.Store(false)

	socketCtx, cancelSocket := context.WithCancel(context.Background())
	sub := zmq4.NewSub(socketCtx,
		zmq4.WithDialerRetry(dialRetry),
		zmq4.WithDialerMaxRetries(dialMaxRetries),
		zmq4.WithAutomaticReconnect(true),
	)

	r.mu.Lock()
	r.socket = sub
	r.cancelSocket = cancelSocket
	r.mu.Unlock()
	defer r.Close()

	frames := make(chan [][]byte)
	go r.receive(socketCtx, sub, frames)

	r.logger.Info("relay started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case parts := <-frames:
			r.forward(ctx, out, parts)

		case <-ticker.C:
			// poll interval elapsed, re-check the stop signal
		}
	}

	stats := r.Stats()
	r.logger.Info("relay stopped",
		slog.Uint64("received", stats.Received),
		slog.Uint64("forwarded", stats.Forwarded),
		slog.Uint64("dropped", stats.Dropped))

	return nil
}

// Close closes the relay socket, unblocking any pending receive. Run calls it on
// exit; the supervisor calls it to abandon a relay that did not stop in time.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.socket == nil {
		return
	}

	r.cancelSocket()
	if err := r.socket.Close(); err != nil {
		r.logger.Debug(fmt.Sprintf("closing socket: %s", err.Error()))
	}

	r.socket = nil
	r.cancelSocket = nil
}

// receive connects and subscribes, then pushes every received message to frames
// until ctx is cancelled
func (r *Relay) receive(ctx context.Context, sub zmq4.Socket, frames chan<- [][]byte) {
	for {
		err := sub.Dial(r.endpoint)
		if err == nil {
			break
		}

		r.logger.Warn(fmt.Sprintf("connecting to publisher: %s", err.Error()))
		if !sleep(ctx, r.pollInterval) {
			return
		}
	}

	if err := sub.SetOption(zmq4.OptionSubscribe, r.topic); err != nil {
		r.logger.Error(fmt.Sprintf("subscribing: %s", err.Error()))
		return
	}

	r.logger.Info("subscribed to publisher")

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			r.logger.Warn(fmt.Sprintf("receiving frame: %s", err.Error()))
			if !sleep(ctx, r.pollInterval) {
				return
			}
			continue
		}

		select {
		case frames <- msg.Frames:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) forward(ctx context.Context, out Forwarder, parts [][]byte) {
	r.received.Add(1)

	label := r.direction.String()
	if r.metrics != nil {
		r.metrics.RelayReceived.WithLabelValues(label).Inc()
		r.metrics.RelayBytes.WithLabelValues(label).Add(float64(size(parts)))
	}

	fctx, cancel := context.WithTimeout(ctx, r.forwardTimeout)
	err := out.Forward(fctx, parts)
	cancel()

	if err != nil {
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RelayDropped.WithLabelValues(label).Inc()
		}
		r.logger.Warn(fmt.Sprintf("dropping frame: %s", err.Error()), slog.Int("parts", len(parts)))
		return
	}

	r.forwarded.Add(1)
	if r.metrics != nil {
		r.metrics.RelayForwarded.WithLabelValues(label).Inc()
	}
}

func size(parts [][]byte) (n int) {
	for _, p := range parts {
		n += len(p)
	}
	return
}

// sleep waits for d or until ctx is done, reporting whether the full duration elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
