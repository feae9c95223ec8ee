package storage

import (
	"database/sql"
	"fmt"
)

// IteratorOption configures a RowIterator
type IteratorOption func(*RowIterator)

// WithTimestampRange limits iteration to rows whose timestamp is within [from, to]
func WithTimestampRange(from, to uint64) IteratorOption {
	return func(i *RowIterator) {
		i.from = &from
		i.to = &to
	}
}

// WithLimit stops iteration after n rows
func WithLimit(n int) IteratorOption {
	return func(i *RowIterator) {
		if n > 0 {
			i.limit = n
		}
	}
}

// RowIterator iterates over the rows of one antenna table
type RowIterator struct {
	table string
	rows  *sql.Rows

	from  *uint64
	to    *uint64
	limit int
	seen  int

	current Row
	err     error
}

func newRowIterator(table string, rows *sql.Rows, opts ...IteratorOption) *RowIterator {
	i := &RowIterator{table: table, rows: rows}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Table returns the name of the table being iterated
func (i *RowIterator) Table() string {
	return i.table
}

// Next advances to the next row and returns false when there are no more rows or an
// error occurred
func (i *RowIterator) Next() bool {
	if i.err != nil || (i.limit > 0 && i.seen >= i.limit) {
		return false
	}

	for i.rows.Next() {
		var ts int64
		if err := i.rows.Scan(&ts, &i.current.Count, &i.current.Real, &i.current.Imaginary); err != nil {
			i.err = fmt.Errorf("scanning row of %s: %w", i.table, err)
			return false
		}
		i.current.Timestamp = fromSQLTimestamp(ts)

		// range filtering is done here, SQLite compares the signed bit pattern
		if i.from != nil && i.current.Timestamp < *i.from {
			continue
		}
		if i.to != nil && i.current.Timestamp > *i.to {
			continue
		}

		i.seen++
		return true
	}

	return false
}

// Current returns the current row
func (i *RowIterator) Current() Row {
	return i.current
}

// Err returns any error that occurred during iteration
func (i *RowIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.rows.Err()
}

// Close releases the database resources
func (i *RowIterator) Close() error {
	return i.rows.Close()
}
