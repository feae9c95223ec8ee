// Package storage persists capture sessions.
//
// A capture file holds exactly one session. Inside it, each direction has a group of
// antenna tables named "<direction>_group/antenna<i>"; every table row is one decoded
// sample with the columns timestamp, count, real and imaginary, in that order.
package storage

import (
	"context"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

// Capture is an open, session-scoped capture file. It is owned by a single writer and
// is not safe for concurrent use.
type Capture interface {
	// Session returns the metadata of the session recorded in this file.
	Session() Session

	// Path returns the location of the capture file.
	Path() string

	// Antennas returns the number of antenna tables provisioned for direction d,
	// or 0 if the direction has not been provisioned yet.
	Antennas(d iq.Direction) int

	// Provision creates the antenna tables of direction d. The table count is fixed
	// for the lifetime of the file: provisioning again with the same count is a no-op,
	// with a different count it fails with *SchemaMismatchError. Provisioning is
	// atomic, either every table is created or none is.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - d: Direction to provision
	//   - antennas: Number of antenna tables, must be positive
	Provision(ctx context.Context, d iq.Direction, antennas int) error

	// Append stores the samples of a decoded frame, one row per sample, antenna-major
	// then sample-minor. The frame direction must be provisioned with the frame antenna
	// count, otherwise *SchemaMismatchError is returned and nothing is written. A frame
	// without antennas writes nothing.
	//
	// Rows become durable on the next Flush, which Append triggers itself every
	// configured number of frames.
	//
	// Returns:
	//   - rows: Number of rows appended
	//   - error: If the frame cannot be stored
	Append(ctx context.Context, f *iq.Frame) (rows int, err error)

	// Flush commits every pending row.
	Flush(ctx context.Context) error

	// Rows returns the number of rows appended since the file was created.
	Rows() uint64

	// Close flushes pending rows, records the session end and closes the file.
	// It is safe to call Close multiple times.
	Close() error
}

// Creator opens a new capture file at path for the named session
type Creator func(ctx context.Context, path, name string) (Capture, error)
