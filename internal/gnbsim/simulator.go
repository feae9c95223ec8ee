// Package gnbsim is a stand-in for the base station: it publishes synthetic IQ frames
// on the RX and TX streams and answers control commands that set their cadence.
package gnbsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

const (
	DefaultAntennas  = 2
	DefaultSamples   = 64
	DefaultFrameRate = 100

	amplitude = 2047.0
	cycles    = 4.0 // sine periods per frame
)

// Config describes the simulated base station
type Config struct {
	RXEndpoint      string    // PUB endpoint of the RX stream
	TXEndpoint      string    // PUB endpoint of the TX stream, may equal RXEndpoint
	ControlEndpoint string    // REP endpoint answering control commands
	Topics          iq.Topics // Stream topics
	Antennas        int       // Antennas per frame
	Samples         int       // Samples per antenna per frame
	FrameRate       float64   // Frames per second per stream
}

func (c *Config) setDefaults() {
	if c.Topics == (iq.Topics{}) {
		c.Topics = iq.DefaultTopics()
	}
	if c.Antennas <= 0 {
		c.Antennas = DefaultAntennas
	}
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
}

// WithLogger sets the logger for the simulator
func WithLogger(logger *slog.Logger) func(*Simulator) {
	return func(s *Simulator) {
		s.logger = logger.With(slog.String("component", "gnbsim"))
	}
}

// Simulator publishes frames while a stream is enabled. Both streams start halted,
// like the real base station, and follow the set_rx, set_tx and all commands:
// -1 streams continuously, 0 halts, n > 0 publishes n frames then halts.
type Simulator struct {
	config Config

	remaining [len(iq.Directions)]atomic.Int64
	published [len(iq.Directions)]atomic.Uint64
	commands  atomic.Uint64

	ready  chan struct{}
	logger *slog.Logger
}

// New creates a simulator
func New(config Config, options ...func(*Simulator)) *Simulator {
	config.setDefaults()

	s := Simulator{
		config: config,
		ready:  make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Ready is closed once every endpoint is bound
func (s *Simulator) Ready() <-chan struct{} {
	return s.ready
}

// Published returns the number of frames published on the stream of direction d
func (s *Simulator) Published(d iq.Direction) uint64 {
	return s.published[d].Load()
}

// Commands returns the number of control requests answered
func (s *Simulator) Commands() uint64 {
	return s.commands.Load()
}

// Run binds the endpoints and serves until ctx is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	rxPub := zmq4.NewPub(gctx)
	defer rxPub.Close()
	if err := rxPub.Listen(s.config.RXEndpoint); err != nil {
		return fmt.Errorf("binding RX publisher: %w", err)
	}

	txPub := rxPub
	if s.config.TXEndpoint != s.config.RXEndpoint {
		txPub = zmq4.NewPub(gctx)
		defer txPub.Close()
		if err := txPub.Listen(s.config.TXEndpoint); err != nil {
			return fmt.Errorf("binding TX publisher: %w", err)
		}
	}

	rep := zmq4.NewRep(gctx)
	defer rep.Close()
	if err := rep.Listen(s.config.ControlEndpoint); err != nil {
		return fmt.Errorf("binding control responder: %w", err)
	}

	close(s.ready)
	s.logger.Info("simulator ready",
		slog.String("rx", s.config.RXEndpoint),
		slog.String("tx", s.config.TXEndpoint),
		slog.String("control", s.config.ControlEndpoint))

	g.Go(func() error {
		return s.publish(gctx, iq.RX, rxPub)
	})

	g.Go(func() error {
		return s.publish(gctx, iq.TX, txPub)
	})

	g.Go(func() error {
		return s.serve(gctx, rep)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Simulator) publish(ctx context.Context, d iq.Direction, pub zmq4.Socket) error {
	limiter := rate.NewLimiter(rate.Limit(s.config.FrameRate), 1)

	var ts uint64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return context.Canceled
		}
		if !s.take(d) {
			continue
		}

		frame := s.frame(d, ts)
		if err := pub.SendMulti(zmq4.NewMsgFrom(iq.EncodeFrame(s.config.Topics, frame)...)); err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("publishing %s frame: %w", d, err)
		}

		ts += uint64(s.config.Samples)
		s.published[d].Add(1)
	}
}

// take consumes one frame of the stream budget, reporting whether a frame is due
func (s *Simulator) take(d iq.Direction) bool {
	for {
		v := s.remaining[d].Load()
		switch {
		case v == 0:
			return false
		case v < 0:
			return true
		case s.remaining[d].CompareAndSwap(v, v-1):
			return true
		}
	}
}

// frame synthesises a sine wave, each antenna phase shifted by π/4
func (s *Simulator) frame(d iq.Direction, ts uint64) *iq.Frame {
	f := iq.Frame{
		Direction: d,
		Timestamp: ts,
		Antennas:  make([][]iq.Sample, s.config.Antennas),
	}

	for a := range f.Antennas {
		samples := make([]iq.Sample, s.config.Samples)
		shift := float64(a) * math.Pi / 4

		for i := range samples {
			angle := 2*math.Pi*cycles*float64(i)/float64(s.config.Samples) + shift
			samples[i] = iq.Sample{
				Real: int16(amplitude * math.Cos(angle)),
				Imag: int16(amplitude * math.Sin(angle)),
			}
		}
		f.Antennas[a] = samples
	}

	return &f
}

func (s *Simulator) serve(ctx context.Context, rep zmq4.Socket) error {
	for {
		msg, err := rep.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("receiving command: %w", err)
		}

		var request string
		if len(msg.Frames) > 0 {
			request = string(msg.Frames[0])
		}

		reply := s.apply(request)
		s.commands.Add(1)
		s.logger.Info("command", slog.String("request", request), slog.String("reply", reply))

		if err = rep.Send(zmq4.NewMsgString(reply)); err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("replying: %w", err)
		}
	}
}

// apply executes a control command and returns the reply text
func (s *Simulator) apply(request string) string {
	fields := strings.Fields(request)
	if len(fields) != 2 {
		return fmt.Sprintf("error: malformed command %q", request)
	}

	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || n < -1 {
		return fmt.Sprintf("error: invalid frame count %q", fields[1])
	}

	switch fields[0] {
	case "set_rx":
		s.remaining[iq.RX].Store(n)
	case "set_tx":
		s.remaining[iq.TX].Store(n)
	case "all":
		s.remaining[iq.RX].Store(n)
		s.remaining[iq.TX].Store(n)
	default:
		return fmt.Sprintf("error: unknown command %q", fields[0])
	}

	return "ok " + request
}
