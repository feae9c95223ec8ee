package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/storage"
)

func createCapture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "iq_session_20240309_140507_001.sqlite")
	c, err := storage.CreateCapture(context.Background(), path, "inspect")
	require.NoError(t, err)

	require.NoError(t, c.Provision(context.Background(), iq.TX, 1))
	for ts := uint64(0); ts < 3; ts++ {
		_, err = c.Append(context.Background(), &iq.Frame{
			Direction: iq.TX,
			Timestamp: ts * 2,
			Antennas:  [][]iq.Sample{{{Real: 1, Imag: 2}, {Real: 3, Imag: 4}}},
		})
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	return path
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestNewConfigFromCLI(t *testing.T) {
	config, err := NewConfigFromCLI([]string{"--db", "a.sqlite", "--parquet", "out", "--head", "5", "-v"})
	require.NoError(t, err)
	assert.Equal(t, &Config{DBPath: "a.sqlite", ParquetDir: "out", Head: 5, Verbose: true}, config)

	config, err = NewConfigFromCLI([]string{"b.sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "b.sqlite", config.DBPath)

	_, err = NewConfigFromCLI(nil)
	assert.ErrorContains(t, err, "db path is required")

	_, err = NewConfigFromCLI([]string{"--db", "a.sqlite", "--head", "-1"})
	assert.Error(t, err)

	_, err = NewConfigFromCLI([]string{"a.sqlite", "b.sqlite"})
	assert.ErrorContains(t, err, "unexpected arguments")
}

func TestRun_Summary(t *testing.T) {
	logger, buf := bufferLogger()

	require.NoError(t, Run(context.Background(), &Config{DBPath: createCapture(t), Head: 1}, logger))

	out := buf.String()
	assert.Contains(t, out, "name=inspect")
	assert.Contains(t, out, "name=tx_group antennas=1 frames=3")
	assert.Contains(t, out, "name=rx_group antennas=0 frames=0")
	assert.Contains(t, out, `msg=tx_group/antenna0 rows=6 timestamps.first=0 timestamps.last=4`)
	assert.Contains(t, out, "timestamp=0 count=0 real=1 imaginary=2")
	assert.NotContains(t, out, "count=1 real=3", "head limits the rows printed")
}

func TestRun_ExportsParquet(t *testing.T) {
	logger, buf := bufferLogger()
	dir := filepath.Join(t.TempDir(), "parquet")

	require.NoError(t, Run(context.Background(), &Config{DBPath: createCapture(t), ParquetDir: dir}, logger))

	assert.FileExists(t, filepath.Join(dir, "iq_session_20240309_140507_001_tx_antenna0.parquet"))
	assert.Contains(t, buf.String(), "files=1 rows=6")
}

func TestRun_MissingFile(t *testing.T) {
	logger, _ := bufferLogger()

	err := Run(context.Background(), &Config{DBPath: filepath.Join(t.TempDir(), "absent.sqlite")}, logger)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
