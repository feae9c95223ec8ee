package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/iq-capture/internal/export"
	"github.com/roman-kulish/iq-capture/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	stat, err := os.Stat(config.DBPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("capture file '%s' does not exist: %w", config.DBPath, err)
		}
		return fmt.Errorf("checking capture file: %w", err)
	}

	reader, err := storage.OpenReader(config.DBPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	logger.Info("capture file",
		slog.String("path", config.DBPath),
		slog.String("size", humanize.Bytes(uint64(stat.Size()))))

	if err = inspect(ctx, reader, config, logger); err != nil {
		return err
	}

	if config.ParquetDir == "" {
		return nil
	}

	if err = os.MkdirAll(config.ParquetDir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	results, err := export.NewExporter(config.ParquetDir, export.WithLogger(logger)).Export(ctx, reader)
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}

	var rows int64
	for _, r := range results {
		rows += r.Rows
	}
	logger.Info("export finished",
		slog.String("directory", config.ParquetDir),
		slog.Int("files", len(results)),
		slog.String("rows", humanize.Comma(rows)))

	return nil
}

func inspect(ctx context.Context, reader *storage.SqliteReader, config *Config, logger *slog.Logger) error {
	session, err := reader.Session(ctx)
	if err != nil {
		return err
	}

	closedAt := "never (file was not closed cleanly)"
	if session.ClosedAt != nil {
		closedAt = session.ClosedAt.Local().Format(time.DateTime)
	}

	logger.Info("session",
		slog.String("id", session.ID.String()),
		slog.String("name", session.Name),
		slog.String("startedAt", session.StartedAt.Local().Format(time.DateTime)),
		slog.String("closedAt", closedAt))

	groups, err := reader.Groups(ctx)
	if err != nil {
		return err
	}

	for _, g := range groups {
		logger.Info("group",
			slog.String("name", g.Name),
			slog.Int("antennas", g.Antennas),
			slog.String("frames", humanize.Comma(g.Frames)))

		for antenna := 0; antenna < g.Antennas; antenna++ {
			summary, err := reader.Summary(ctx, g.Direction, antenna)
			if err != nil {
				return err
			}

			attrs := []any{
				slog.String("rows", humanize.Comma(summary.Rows)),
			}
			if summary.Rows > 0 {
				attrs = append(attrs, slog.Group("timestamps",
					slog.Uint64("first", summary.FirstTS),
					slog.Uint64("last", summary.LastTS)))
			}
			logger.Debug(summary.Table, attrs...)

			if config.Head > 0 {
				if err = head(ctx, reader, g, antenna, config.Head, logger); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func head(ctx context.Context, reader *storage.SqliteReader, g storage.Group, antenna, n int, logger *slog.Logger) (err error) {
	it, err := reader.Rows(ctx, g.Direction, antenna, storage.WithLimit(n))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, it.Close())
	}()

	for it.Next() {
		row := it.Current()
		logger.Info("row",
			slog.String("table", it.Table()),
			slog.Uint64("timestamp", row.Timestamp),
			slog.Int("count", int(row.Count)),
			slog.Int("real", int(row.Real)),
			slog.Int("imaginary", int(row.Imaginary)))
	}

	return it.Err()
}
