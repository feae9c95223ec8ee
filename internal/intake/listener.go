package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// WithListenerLogger sets the logger of the listener
func WithListenerLogger(logger *slog.Logger) func(*Listener) {
	return func(l *Listener) {
		l.logger = logger.With(slog.String("component", "intake"), slog.String("endpoint", l.endpoint))
	}
}

// Listener binds the intake to a ZeroMQ endpoint so producers running outside this
// process can publish frames and tokens onto it. Every message received on the bound
// SUB socket (subscribed to everything) is queued on the channel unchanged.
type Listener struct {
	endpoint string
	out      *Channel
	logger   *slog.Logger
}

// NewListener creates a listener bound to endpoint feeding out
func NewListener(endpoint string, out *Channel, options ...func(*Listener)) *Listener {
	l := Listener{
		endpoint: endpoint,
		out:      out,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Run binds the endpoint and queues received messages until ctx is cancelled or the
// channel is closed
func (l *Listener) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := zmq4.NewSub(ctx)
	defer func() {
		if cErr := sub.Close(); cErr != nil && err == nil && ctx.Err() == nil {
			err = fmt.Errorf("closing socket: %w", cErr)
		}
	}()

	if err = sub.Listen(l.endpoint); err != nil {
		return fmt.Errorf("binding %s: %w", l.endpoint, err)
	}
	if err = sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	go func() {
		select {
		case <-l.out.Closed():
			cancel()
		case <-ctx.Done():
		}
	}()

	l.logger.Info("intake listening")

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("intake listener stopped")
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}

		if err = l.out.Send(ctx, msg.Frames); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				l.logger.Info("intake listener stopped")
				return nil
			}
			l.logger.Warn(fmt.Sprintf("dropping message: %s", err.Error()))
		}
	}
}
