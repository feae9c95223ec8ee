// Package export converts capture files into columnar Parquet files, one per antenna
// table, for analysis tools that do not read SQLite.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/storage"
)

const batchSize = 4096

// Sample is the Parquet row of an antenna table. Components are widened to int32
// like the other capture exports.
type Sample struct {
	Timestamp uint64 `parquet:"timestamp"`
	Count     int32  `parquet:"count"`
	Real      int32  `parquet:"real"`
	Imaginary int32  `parquet:"imaginary"`
}

// Metadata is stored as key/value pairs in the Parquet footer
type Metadata map[string]string

// WriteParquet writes every row of it to w and returns the number of rows written
func WriteParquet(w io.Writer, it *storage.RowIterator, metadata Metadata) (n int64, err error) {
	options := make([]parquet.WriterOption, 0, len(metadata))
	for k, v := range metadata {
		options = append(options, parquet.KeyValueMetadata(k, v))
	}

	writer := parquet.NewGenericWriter[Sample](w, options...)
	defer func() {
		if cErr := writer.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing parquet writer: %w", cErr)
		}
	}()

	batch := make([]Sample, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return fmt.Errorf("writing rows of %s: %w", it.Table(), err)
		}
		n += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for it.Next() {
		row := it.Current()
		batch = append(batch, Sample{
			Timestamp: row.Timestamp,
			Count:     row.Count,
			Real:      int32(row.Real),
			Imaginary: int32(row.Imaginary),
		})

		if len(batch) == batchSize {
			if err = flush(); err != nil {
				return n, err
			}
		}
	}
	if err = it.Err(); err != nil {
		return n, err
	}

	return n, flush()
}

// Result describes one exported antenna table
type Result struct {
	Table string
	Path  string
	Rows  int64
}

// Exporter writes the antenna tables of capture files into a directory
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// WithLogger sets the logger of the exporter
func WithLogger(logger *slog.Logger) func(*Exporter) {
	return func(e *Exporter) {
		e.logger = logger.With(slog.String("component", "export"))
	}
}

// NewExporter creates an exporter writing into dir, which must exist
func NewExporter(dir string, options ...func(*Exporter)) *Exporter {
	e := Exporter{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Export writes one Parquet file per provisioned antenna table of the capture read by
// r, named <capture>_<direction>_antenna<i>.parquet. Existing files are not replaced.
func (e *Exporter) Export(ctx context.Context, r *storage.SqliteReader) ([]Result, error) {
	session, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := r.Groups(ctx)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(r.Path()), filepath.Ext(r.Path()))

	var results []Result
	for _, g := range groups {
		for antenna := 0; antenna < g.Antennas; antenna++ {
			if err = ctx.Err(); err != nil {
				return results, err
			}

			path := filepath.Join(e.dir, fmt.Sprintf("%s_%s_antenna%d.parquet", base, g.Direction, antenna))
			metadata := Metadata{
				"session_id":   session.ID.String(),
				"session_name": session.Name,
				"table":        storage.TableName(g.Direction, antenna),
				"direction":    g.Direction.String(),
				"antenna":      strconv.Itoa(antenna),
			}

			rows, err := e.exportTable(ctx, r, g.Direction, antenna, path, metadata)
			if err != nil {
				return results, err
			}

			e.logger.Info("exported table",
				slog.String("table", metadata["table"]),
				slog.String("path", path),
				slog.Int64("rows", rows))

			results = append(results, Result{Table: metadata["table"], Path: path, Rows: rows})
		}
	}

	return results, nil
}

func (e *Exporter) exportTable(ctx context.Context, r *storage.SqliteReader, d iq.Direction, antenna int, path string, metadata Metadata) (n int64, err error) {
	it, err := r.Rows(ctx, d, antenna)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	return WriteParquet(out, it, metadata)
}
