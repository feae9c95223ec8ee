// Package pipeline supervises the capture units: the RX and TX relays, the session
// writer and the control client.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/iq-capture/internal/control"
	"github.com/roman-kulish/iq-capture/internal/intake"
	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/metrics"
	"github.com/roman-kulish/iq-capture/internal/relay"
	"github.com/roman-kulish/iq-capture/internal/writer"
)

// DefaultJoinTimeout bounds the wait for each unit on shutdown
const DefaultJoinTimeout = 2 * time.Second

var (
	// ErrNotStarted is returned when the pipeline is used before Start
	ErrNotStarted = errors.New("pipeline is not started")

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("pipeline is already started")
)

// ShutdownTimeoutError reports a unit that did not exit within the join window and
// was abandoned
type ShutdownTimeoutError struct {
	Unit    string
	Timeout time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("shutdown: %s did not exit within %s", e.Unit, e.Timeout)
}

// Config holds the pipeline endpoints and timeouts
type Config struct {
	RXEndpoint      string
	TXEndpoint      string
	ControlEndpoint string
	Topics          iq.Topics

	IntakeCapacity int
	PollInterval   time.Duration
	ForwardTimeout time.Duration
	ControlTimeout time.Duration
	JoinTimeout    time.Duration
}

// WithLogger sets the logger for the pipeline and the units it creates
func WithLogger(logger *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics of the pipeline and the units it creates
func WithMetrics(m *metrics.Metrics) func(*Pipeline) {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithWriter replaces the default session writer
func WithWriter(w *writer.Writer) func(*Pipeline) {
	return func(p *Pipeline) {
		p.writer = w
	}
}

// unit is one supervised goroutine
type unit struct {
	name   string
	done   chan error
	cancel context.CancelFunc
	abort  func() // forced termination once the join window expired
}

// Pipeline starts the relays and the writer, emits session tokens onto the intake and
// forwards control commands. Shutdown is ordered: writer first, then relays.
type Pipeline struct {
	config Config

	intake  *intake.Channel
	relays  []*relay.Relay
	writer  *writer.Writer
	control *control.Client

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	writerUnit *unit
	relayUnits []*unit
	stopRelays context.CancelFunc

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a pipeline. Units are created but not started.
func New(config Config, options ...func(*Pipeline)) *Pipeline {
	if config.Topics == (iq.Topics{}) {
		config.Topics = iq.DefaultTopics()
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = DefaultJoinTimeout
	}

	p := Pipeline{
		config: config,
		intake: intake.New(config.IntakeCapacity),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	if p.writer == nil {
		p.writer = writer.New(
			writer.WithLogger(p.logger),
			writer.WithMetrics(p.metrics),
			writer.WithTopics(config.Topics),
		)
	}

	for _, d := range iq.Directions {
		endpoint := config.RXEndpoint
		if d == iq.TX {
			endpoint = config.TXEndpoint
		}

		p.relays = append(p.relays, relay.New(d, endpoint, config.Topics.Topic(d),
			relay.WithLogger(p.logger),
			relay.WithMetrics(p.metrics),
			relay.WithPollInterval(config.PollInterval),
			relay.WithForwardTimeout(config.ForwardTimeout),
		))
	}

	p.control = control.NewClient(config.ControlEndpoint,
		control.WithLogger(p.logger),
		control.WithMetrics(p.metrics),
		control.WithTimeout(config.ControlTimeout),
	)

	return &p
}

// Intake returns the merged channel, for additional producers
func (p *Pipeline) Intake() *intake.Channel {
	return p.intake
}

// Writer returns the session writer
func (p *Pipeline) Writer() *writer.Writer {
	return p.writer
}

// Relays returns the stream relays, RX first
func (p *Pipeline) Relays() []*relay.Relay {
	return p.relays
}

// Start launches the writer and both relays as independent goroutines. The units
// are not bound to ctx: they run until Shutdown.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	// units outlive a cancelled parent so Shutdown can stop them in order
	base := context.WithoutCancel(ctx)

	writerCtx, cancelWriter := context.WithCancel(base)
	p.writerUnit = p.launch("writer", cancelWriter, nil, func() error {
		return p.writer.Run(writerCtx, p.intake)
	})

	relayCtx, stopRelays := context.WithCancel(base)
	p.stopRelays = stopRelays

	for _, r := range p.relays {
		p.relayUnits = append(p.relayUnits, p.launch(r.Direction().String()+" relay", stopRelays, r.Close, func() error {
			return r.Run(relayCtx, p.intake)
		}))
	}

	p.logger.Info("pipeline started")
	return nil
}

func (p *Pipeline) launch(name string, cancel context.CancelFunc, abort func(), run func() error) *unit {
	u := unit{
		name:   name,
		done:   make(chan error, 1),
		cancel: cancel,
		abort:  abort,
	}

	go func() {
		err := run()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error(fmt.Sprintf("%s exited: %s", name, err.Error()))
		}
		u.done <- err
	}()

	return &u
}

// StartCapture opens a new session and then sends cmd to the base station. The
// session is open before any data can arrive; it may start earlier than the capture.
func (p *Pipeline) StartCapture(ctx context.Context, cmd control.Command) (string, error) {
	if !p.started.Load() {
		return "", ErrNotStarted
	}

	if err := p.emit(ctx, iq.TokenNew); err != nil {
		return "", err
	}

	return p.control.Send(ctx, cmd)
}

// Command sends cmd to the base station without touching the session
func (p *Pipeline) Command(ctx context.Context, cmd control.Command) (string, error) {
	return p.control.Send(ctx, cmd)
}

func (p *Pipeline) emit(ctx context.Context, token iq.Token) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.JoinTimeout)
	defer cancel()

	if err := p.intake.Send(ctx, iq.EncodeToken(token)); err != nil {
		return fmt.Errorf("emitting %q: %w", token, err)
	}
	return nil
}

// Shutdown stops the units in order and never blocks longer than a few join windows.
//
// It emits "stop" and waits for the writer; a writer still running after the join
// window is cancelled, which makes it flush and close its file, and is abandoned if
// it does not exit within a second window. Then the relays are stopped and waited
// for; a relay that does not exit in time has its socket closed and is abandoned.
// Every abandoned unit is reported as a *ShutdownTimeoutError.
func (p *Pipeline) Shutdown() error {
	if !p.started.Load() {
		return ErrNotStarted
	}

	p.shutdownOnce.Do(func() {
		var errs []error

		if err := p.emit(context.Background(), iq.TokenStop); err != nil {
			p.logger.Warn(err.Error())
		}

		if err := p.join(p.writerUnit); err != nil {
			errs = append(errs, err)
		}

		p.stopRelays()
		for _, u := range p.relayUnits {
			if err := p.join(u); err != nil {
				errs = append(errs, err)
			}
		}

		p.intake.Close()
		p.shutdownErr = errors.Join(errs...)

		p.logger.Info("pipeline stopped")
	})

	return p.shutdownErr
}

// join waits for u to exit. On expiry the unit is cancelled, forcibly aborted if it
// has an abort hook, and given one more window before it is abandoned.
func (p *Pipeline) join(u *unit) error {
	if p.wait(u) {
		return nil
	}

	timeoutErr := &ShutdownTimeoutError{Unit: u.name, Timeout: p.config.JoinTimeout}
	p.logger.Warn(timeoutErr.Error() + ", terminating")
	if p.metrics != nil {
		p.metrics.ShutdownTimeouts.WithLabelValues(u.name).Inc()
	}

	u.cancel()
	if u.abort != nil {
		u.abort()
	}

	if !p.wait(u) {
		p.logger.Error(fmt.Sprintf("abandoning %s", u.name))
	}

	return timeoutErr
}

func (p *Pipeline) wait(u *unit) bool {
	t := time.NewTimer(p.config.JoinTimeout)
	defer t.Stop()

	select {
	case <-u.done:
		return true
	case <-t.C:
		return false
	}
}
