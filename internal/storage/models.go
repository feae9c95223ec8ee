package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

// Session describes the capture session a file belongs to
type Session struct {
	ID        uuid.UUID
	Name      string
	StartedAt time.Time
	ClosedAt  *time.Time // Nil when the file was not closed cleanly
}

// Group is a per-direction group of antenna tables
type Group struct {
	Name      string
	Direction iq.Direction
	Antennas  int   // Number of antenna tables, 0 until the first frame of the direction
	Frames    int64 // Frames committed to the group tables
}

// Row is one decoded sample in an antenna table
type Row struct {
	Timestamp uint64 // Frame timestamp
	Count     int32  // Sample position within the frame
	Real      int16
	Imaginary int16
}

// TableSummary describes the content of one antenna table
type TableSummary struct {
	Table   string
	Rows    int64
	FirstTS uint64
	LastTS  uint64
}

// SchemaMismatchError is returned when a frame carries a different number of antennas
// than the tables provisioned for its direction
type SchemaMismatchError struct {
	Direction iq.Direction
	Want      int // Provisioned antenna tables
	Got       int // Antennas in the rejected frame
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s group has %d antenna tables, frame carries %d antennas",
		e.Direction, e.Want, e.Got)
}
