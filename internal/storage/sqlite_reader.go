package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

// ErrNoData indicates that an antenna table does not exist in the capture file
var ErrNoData = errors.New("no data available")

// SqliteReader opens a capture file read-only
type SqliteReader struct {
	path string
	db   *sql.DB
}

// OpenReader opens the capture file at path for reading
func OpenReader(path string) (*SqliteReader, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("capture file %s does not exist", path)
		}
		return nil, fmt.Errorf("checking capture file: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "mode=ro"))
	if err != nil {
		return nil, fmt.Errorf("opening read connection: %w", err)
	}

	return &SqliteReader{path: path, db: db}, nil
}

// Path returns the location of the capture file
func (r *SqliteReader) Path() string {
	return r.path
}

// Session returns the session recorded in the file
func (r *SqliteReader) Session(ctx context.Context) (session Session, err error) {
	stmt, err := r.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return session, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var (
		id       string
		closedAt sql.NullTime
	)
	if err = stmt.QueryRowContext(ctx).Scan(&id, &session.Name, &session.StartedAt, &closedAt); err != nil {
		return session, fmt.Errorf("scanning session: %w", err)
	}

	if session.ID, err = uuid.Parse(id); err != nil {
		return session, fmt.Errorf("parsing session id: %w", err)
	}
	if closedAt.Valid {
		session.ClosedAt = &closedAt.Time
	}

	return session, nil
}

// Groups returns the direction groups of the file
func (r *SqliteReader) Groups(ctx context.Context) (groups []Group, err error) {
	rows, err := r.db.QueryContext(ctx, selectGroupsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			g         Group
			direction string
		)
		if err = rows.Scan(&g.Name, &direction, &g.Antennas, &g.Frames); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		if g.Direction, err = parseDirection(direction); err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// Tables returns the names of every antenna table in the file, sorted
func (r *SqliteReader) Tables(ctx context.Context) (tables []string, err error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE '%\_group/antenna%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// Summary returns the row count and timestamp range of an antenna table
func (r *SqliteReader) Summary(ctx context.Context, d iq.Direction, antenna int) (summary TableSummary, err error) {
	table := TableName(d, antenna)
	summary.Table = table

	var lowMin, lowMax, highMin, highMax sql.NullInt64
	err = r.db.QueryRowContext(ctx, fmt.Sprintf(selectTableSummarySQL, quoteIdent(table))).
		Scan(&summary.Rows, &lowMin, &lowMax, &highMin, &highMax)
	if err != nil {
		if isNoSuchTable(err) {
			return summary, fmt.Errorf("%s: %w", table, ErrNoData)
		}
		return summary, fmt.Errorf("summarizing %s: %w", table, err)
	}

	// timestamps from 2^63 up are stored negative and follow all the others
	switch {
	case lowMin.Valid:
		summary.FirstTS = fromSQLTimestamp(lowMin.Int64)
	case highMin.Valid:
		summary.FirstTS = fromSQLTimestamp(highMin.Int64)
	}
	switch {
	case highMax.Valid:
		summary.LastTS = fromSQLTimestamp(highMax.Int64)
	case lowMax.Valid:
		summary.LastTS = fromSQLTimestamp(lowMax.Int64)
	}

	return summary, nil
}

// Rows returns an iterator over the rows of an antenna table in insertion order
func (r *SqliteReader) Rows(ctx context.Context, d iq.Direction, antenna int, opts ...IteratorOption) (*RowIterator, error) {
	table := TableName(d, antenna)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(selectRowsSQL, quoteIdent(table)))
	if err != nil {
		if isNoSuchTable(err) {
			return nil, fmt.Errorf("%s: %w", table, ErrNoData)
		}
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}

	return newRowIterator(table, rows, opts...), nil
}

// Close closes the read connection
func (r *SqliteReader) Close() error {
	return r.db.Close()
}

func isNoSuchTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
