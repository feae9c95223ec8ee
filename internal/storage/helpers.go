package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is deferred right after BeginTx; after a successful commit the
// rollback reports sql.ErrTxDone, which is not an error
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// TableName returns the name of the antenna table of a direction, e.g. "rx_group/antenna0"
func TableName(d iq.Direction, antenna int) string {
	return fmt.Sprintf("%s/antenna%d", d.Group(), antenna)
}

// quoteIdent quotes a table name, which contains a slash, for use in SQL
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// uint64 timestamps are stored by bit pattern: the sqlite driver rejects uint64
// values with the high bit set
func toSQLTimestamp(ts uint64) int64 {
	return int64(ts)
}

func fromSQLTimestamp(v int64) uint64 {
	return uint64(v)
}

func parseDirection(s string) (iq.Direction, error) {
	for _, d := range iq.Directions {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
