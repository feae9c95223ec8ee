// Package control implements the request/reply client of the base station control
// endpoint. Every command is a one-shot round trip on its own socket.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/roman-kulish/iq-capture/internal/metrics"
)

// DefaultTimeout is how long Send waits for a reply
const DefaultTimeout = 3 * time.Second

const dialRetry = 100 * time.Millisecond

// ErrTimeout is returned when the control endpoint does not reply in time
var ErrTimeout = errors.New("no reply from control endpoint")

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("control", c.endpoint))
	}
}

// WithMetrics sets the metrics the client records to
func WithMetrics(m *metrics.Metrics) func(*Client) {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout sets the reply timeout
func WithTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client sends commands to the base station control endpoint. It holds no connection
// and is safe for concurrent use.
type Client struct {
	endpoint string
	timeout  time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a client of the control endpoint
func NewClient(endpoint string, options ...func(*Client)) *Client {
	c := Client{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Endpoint returns the control endpoint address
func (c *Client) Endpoint() string {
	return c.endpoint
}

type reply struct {
	text string
	err  error
}

// Send opens a fresh request socket, sends cmd and waits for the reply.
//
// If no reply arrives within the client timeout, Send returns an error wrapping
// ErrTimeout. The command is best effort: it is never retried.
func (c *Client) Send(ctx context.Context, cmd Command) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	req := zmq4.NewReq(ctx,
		zmq4.WithDialerRetry(dialRetry),
		zmq4.WithDialerMaxRetries(int(c.timeout/dialRetry)+1),
	)
	defer req.Close()

	result := make(chan reply, 1)
	go func() {
		text, err := roundTrip(req, c.endpoint, cmd)
		result <- reply{text, err}
	}()

	var (
		text string
		err  error
	)

	select {
	case r := <-result:
		text, err = r.text, r.err

	case <-ctx.Done():
		err = ctx.Err()
	}

	// the socket shares ctx, so an expired wait may surface through either branch
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %q", ErrTimeout, c.timeout, cmd)
		}
	}

	c.record(err, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.logger.Warn(err.Error())
		} else {
			c.logger.Error(fmt.Sprintf("sending %q: %s", cmd, err.Error()))
		}
		return "", err
	}

	c.logger.Info("command acknowledged", slog.String("command", cmd.String()), slog.String("reply", text))

	return text, nil
}

func (c *Client) record(err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}

	outcome := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}

	c.metrics.Commands.WithLabelValues(outcome).Inc()
	c.metrics.CommandLatency.Observe(elapsed.Seconds())
}

func roundTrip(req zmq4.Socket, endpoint string, cmd Command) (string, error) {
	if err := req.Dial(endpoint); err != nil {
		return "", fmt.Errorf("connecting: %w", err)
	}
	if err := req.Send(zmq4.NewMsgString(cmd.String())); err != nil {
		return "", fmt.Errorf("sending: %w", err)
	}

	msg, err := req.Recv()
	if err != nil {
		return "", fmt.Errorf("receiving reply: %w", err)
	}
	if len(msg.Frames) == 0 {
		return "", nil
	}

	return string(msg.Frames[0]), nil
}
