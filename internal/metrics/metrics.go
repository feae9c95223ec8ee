// Package metrics holds the Prometheus collectors of the capture pipeline.
//
// Every component accepts a nil *Metrics and skips recording in that case, so metrics
// are opt-in for tests and tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "iqcapture"

// Metrics contains the pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	// Relay metrics
	RelayReceived  *prometheus.CounterVec
	RelayForwarded *prometheus.CounterVec
	RelayDropped   *prometheus.CounterVec
	RelayBytes     *prometheus.CounterVec

	// Writer metrics
	FramesDecoded    *prometheus.CounterVec
	FramesWritten    *prometheus.CounterVec
	FramesDiscarded  *prometheus.CounterVec
	RowsWritten      *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	SchemaMismatches *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	Recording        prometheus.Gauge

	// Control and supervision metrics
	Commands         *prometheus.CounterVec
	CommandLatency   prometheus.Histogram
	ShutdownTimeouts *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go runtime
// collectors, on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RelayReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Frames received from the base station publisher",
		}, []string{"direction"}),

		RelayForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_forwarded_total",
			Help:      "Frames forwarded onto the writer intake",
		}, []string{"direction"}),

		RelayDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the writer intake did not accept them",
		}, []string{"direction"}),

		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received from the base station publisher",
		}, []string{"direction"}),

		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "frames_decoded_total",
			Help:      "Frames decoded by the session writer",
		}, []string{"direction"}),

		FramesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "frames_written_total",
			Help:      "Frames appended to a capture file",
		}, []string{"direction"}),

		FramesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "frames_discarded_total",
			Help:      "Decoded frames not written, by reason",
		}, []string{"direction", "reason"}),

		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_written_total",
			Help:      "Antenna rows appended to capture files",
		}, []string{"direction"}),

		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "decode_errors_total",
			Help:      "Malformed intake messages dropped by the writer",
		}),

		SchemaMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "schema_mismatches_total",
			Help:      "Frames rejected because their antenna count differs from the session tables",
		}, []string{"direction"}),

		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "sessions_total",
			Help:      "Capture sessions by outcome (opened, closed, failed)",
		}, []string{"outcome"}),

		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "recording",
			Help:      "Writer state (0=idle, 1=recording)",
		}),

		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Control commands by outcome (ok, timeout, error)",
		}, []string{"outcome"}),

		CommandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "command_duration_seconds",
			Help:      "Control command round-trip duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		}),

		ShutdownTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "shutdown_timeouts_total",
			Help:      "Units that did not exit within the join window and were abandoned",
		}, []string{"unit"}),
	}

	m.registry.MustRegister(
		m.RelayReceived,
		m.RelayForwarded,
		m.RelayDropped,
		m.RelayBytes,
		m.FramesDecoded,
		m.FramesWritten,
		m.FramesDiscarded,
		m.RowsWritten,
		m.DecodeErrors,
		m.SchemaMismatches,
		m.Sessions,
		m.Recording,
		m.Commands,
		m.CommandLatency,
		m.ShutdownTimeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
