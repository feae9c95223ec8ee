// Package writer implements the session writer: the single consumer of the intake,
// which decodes frames and records them into session-scoped capture files.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/metrics"
	"github.com/roman-kulish/iq-capture/internal/storage"
)

// ErrAlreadyRunning is returned when Run is called on a writer that is running
var ErrAlreadyRunning = errors.New("writer is already running")

// Source is the receiving end of the intake
type Source interface {
	Messages() <-chan [][]byte
	Closed() <-chan struct{}
}

// Namer returns the capture file path of the seq-th session opened by the writer
type Namer func(now time.Time, seq int) string

// DefaultNamer names capture files <dir>/<prefix>_<UTC yyyymmdd_hhmmss>_<seq>.sqlite.
// The sequence number keeps sessions opened within the same second apart.
func DefaultNamer(dir, prefix string) Namer {
	return func(now time.Time, seq int) string {
		return filepath.Join(dir, fmt.Sprintf("%s_%s_%03d.sqlite", prefix, now.UTC().Format("20060102_150405"), seq))
	}
}

// WithLogger sets the logger for the writer
func WithLogger(logger *slog.Logger) func(*Writer) {
	return func(w *Writer) {
		w.logger = logger.With(slog.String("component", "writer"))
	}
}

// WithMetrics sets the metrics the writer records to
func WithMetrics(m *metrics.Metrics) func(*Writer) {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithTopics sets the topic to direction mapping used to decode frames
func WithTopics(topics iq.Topics) func(*Writer) {
	return func(w *Writer) {
		w.decoder = iq.NewDecoder(topics)
	}
}

// WithNamer sets how capture files are named
func WithNamer(namer Namer) func(*Writer) {
	return func(w *Writer) {
		w.namer = namer
	}
}

// WithCreator sets how capture files are created
func WithCreator(create storage.Creator) func(*Writer) {
	return func(w *Writer) {
		w.create = create
	}
}

// WithFlushFrames sets how many frames are written between commits of the
// default SQLite capture files
func WithFlushFrames(n int) func(*Writer) {
	return func(w *Writer) {
		w.create = storage.NewCreator(storage.WithFlushFrames(n))
	}
}

// State is the writer session state
type State int32

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Stats are the writer's own counters
type Stats struct {
	RX            uint64 // RX frames decoded
	TX            uint64 // TX frames decoded
	FramesWritten uint64
	Rows          uint64
	Discarded     uint64 // Decoded frames not written: idle, empty, storage failure
	DecodeErrors  uint64
	Mismatches    uint64
	Sessions      uint64 // Capture files opened
}

// Writer consumes the intake. It is Idle until a "new" token opens a capture file
// and Recording until "stop" closes it, which also ends Run.
type Writer struct {
	decoder *iq.Decoder
	create  storage.Creator
	namer   Namer

	isRunning atomic.Bool
	state     atomic.Int32

	// owned by the Run goroutine
	capture storage.Capture
	seq     int

	frames        [len(iq.Directions)]atomic.Uint64
	framesWritten atomic.Uint64
	rows          atomic.Uint64
	discarded     atomic.Uint64
	decodeErrors  atomic.Uint64
	mismatches    atomic.Uint64
	sessions      atomic.Uint64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a writer. Without options it decodes the default topics and writes
// SQLite capture files into the working directory.
func New(options ...func(*Writer)) *Writer {
	w := Writer{
		decoder: iq.NewDecoder(iq.DefaultTopics()),
		create:  storage.NewCreator(),
		namer:   DefaultNamer(".", "iq_session"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// State returns the current session state
func (w *Writer) State() State {
	return State(w.state.Load())
}

// IsRunning returns true while Run is executing
func (w *Writer) IsRunning() bool {
	return w.isRunning.Load()
}

// Stats returns a snapshot of the writer counters
func (w *Writer) Stats() Stats {
	return Stats{
		RX:            w.frames[iq.RX].Load(),
		TX:            w.frames[iq.TX].Load(),
		FramesWritten: w.framesWritten.Load(),
		Rows:          w.rows.Load(),
		Discarded:     w.discarded.Load(),
		DecodeErrors:  w.decodeErrors.Load(),
		Mismatches:    w.mismatches.Load(),
		Sessions:      w.sessions.Load(),
	}
}

// Run consumes src until a "stop" token, the closing of src, or the cancellation of
// ctx. Whichever ends it, an open capture file is flushed and closed before Run
// returns. Cancellation is the supervisor's forced termination and is reported as
// ctx.Err(); the other endings return nil.
//
// Malformed messages, schema mismatches and storage failures are logged and the
// offending frame dropped; failing to create a capture file leaves the writer Idle.
// None of them ends Run.
func (w *Writer) Run(ctx context.Context, src Source) error {
	if !w.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.isRunning.Store(false)
	defer w.closeSession()

	w.logger.Info("writer started")

	for {
		select {
		case parts := <-src.Messages():
			if w.handle(ctx, parts) {
				w.logger.Info("stop received, writer exiting")
				return nil
			}

		case <-src.Closed():
			// producers are gone; consume what they left behind
			for {
				select {
				case parts := <-src.Messages():
					if w.handle(ctx, parts) {
						return nil
					}
				default:
					w.logger.Info("intake closed, writer exiting")
					return nil
				}
			}

		case <-ctx.Done():
			w.logger.Warn("writer cancelled")
			return ctx.Err()
		}
	}
}

// handle processes one intake message and reports whether the writer must stop
func (w *Writer) handle(ctx context.Context, parts [][]byte) (stop bool) {
	msg, err := w.decoder.Decode(parts)
	if err != nil {
		w.decodeErrors.Add(1)
		if w.metrics != nil {
			w.metrics.DecodeErrors.Inc()
		}
		w.logger.Warn(fmt.Sprintf("dropping message: %s", err.Error()))
		return false
	}

	if msg.IsToken() {
		switch msg.Token {
		case iq.TokenNew:
			w.openSession(ctx)
		case iq.TokenStop:
			if w.capture == nil {
				w.logger.Info("stop received while idle")
			}
			return true
		}
		return false
	}

	w.handleFrame(ctx, msg.Frame)
	return false
}

func (w *Writer) handleFrame(ctx context.Context, f *iq.Frame) {
	d := f.Direction
	label := d.String()

	n := w.frames[d].Add(1)
	if w.metrics != nil {
		w.metrics.FramesDecoded.WithLabelValues(label).Inc()
	}

	w.logger.Debug("frame",
		slog.String("direction", label),
		slog.Uint64("packet", n),
		slog.Uint64("timestamp", f.Timestamp),
		slog.Int("antennas", f.AntennaCount()),
		slog.Int("samples", f.SampleCount()))

	if w.capture == nil {
		w.discard(label, "idle")
		return
	}
	if f.AntennaCount() == 0 {
		w.discard(label, "empty")
		return
	}

	if w.capture.Antennas(d) == 0 {
		if err := w.capture.Provision(ctx, d, f.AntennaCount()); err != nil {
			w.logger.Error(fmt.Sprintf("provisioning %s tables: %s", d.Group(), err.Error()))
			w.discard(label, "storage")
			return
		}
		w.logger.Info("tables provisioned", slog.String("group", d.Group()), slog.Int("antennas", f.AntennaCount()))
	}

	rows, err := w.capture.Append(ctx, f)
	if rows > 0 {
		w.rows.Add(uint64(rows))
		if w.metrics != nil {
			w.metrics.RowsWritten.WithLabelValues(label).Add(float64(rows))
		}
	}

	if err != nil {
		var mismatch *storage.SchemaMismatchError
		if errors.As(err, &mismatch) {
			w.mismatches.Add(1)
			if w.metrics != nil {
				w.metrics.SchemaMismatches.WithLabelValues(label).Inc()
			}
			w.logger.Warn(fmt.Sprintf("dropping frame: %s", err.Error()), slog.Uint64("timestamp", f.Timestamp))
			return
		}

		w.logger.Error(fmt.Sprintf("writing frame: %s", err.Error()), slog.Uint64("timestamp", f.Timestamp))
		w.discard(label, "storage")
		return
	}

	w.framesWritten.Add(1)
	if w.metrics != nil {
		w.metrics.FramesWritten.WithLabelValues(label).Inc()
	}
}

func (w *Writer) discard(direction, reason string) {
	w.discarded.Add(1)
	if w.metrics != nil {
		w.metrics.FramesDiscarded.WithLabelValues(direction, reason).Inc()
	}
}

// openSession opens a new capture file. A session that is still open is closed
// first, so every "new" yields a file of its own.
func (w *Writer) openSession(ctx context.Context) {
	if w.capture != nil {
		w.logger.Info("new session requested while recording")
		w.closeSession()
	}

	w.seq++
	path := w.namer(time.Now(), w.seq)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	capture, err := w.create(ctx, path, name)
	if err != nil {
		if w.metrics != nil {
			w.metrics.Sessions.WithLabelValues("failed").Inc()
		}
		w.logger.Error(fmt.Sprintf("opening capture file: %s", err.Error()), slog.String("path", path))
		return
	}

	w.capture = capture
	w.state.Store(int32(Recording))
	w.sessions.Add(1)
	if w.metrics != nil {
		w.metrics.Sessions.WithLabelValues("opened").Inc()
		w.metrics.Recording.Set(1)
	}

	w.logger.Info("capture session opened",
		slog.String("path", path),
		slog.String("session", capture.Session().ID.String()))
}

func (w *Writer) closeSession() {
	if w.capture == nil {
		return
	}

	capture := w.capture
	w.capture = nil
	w.state.Store(int32(Idle))
	if w.metrics != nil {
		w.metrics.Recording.Set(0)
	}

	if err := capture.Close(); err != nil {
		w.logger.Error(fmt.Sprintf("closing capture file: %s", err.Error()), slog.String("path", capture.Path()))
		return
	}
	if w.metrics != nil {
		w.metrics.Sessions.WithLabelValues("closed").Inc()
	}

	attrs := []any{
		slog.String("path", capture.Path()),
		slog.String("rows", humanize.Comma(int64(capture.Rows()))),
	}
	if stat, err := os.Stat(capture.Path()); err == nil {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(stat.Size()))))
	}

	w.logger.Info("capture session closed", attrs...)
}
