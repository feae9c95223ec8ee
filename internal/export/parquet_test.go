package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/storage"
	tu "github.com/roman-kulish/iq-capture/internal/testutil"
)

func createCapture(t *testing.T, frames ...*iq.Frame) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.sqlite")
	c, err := storage.CreateCapture(context.Background(), path, "export-test")
	require.NoError(t, err)

	for _, f := range frames {
		if c.Antennas(f.Direction) == 0 {
			require.NoError(t, c.Provision(context.Background(), f.Direction, f.AntennaCount()))
		}
		_, err = c.Append(context.Background(), f)
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	return path
}

func readSamples(t *testing.T, path string) ([]Sample, *parquet.File) {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	stat, err := f.Stat()
	require.NoError(t, err)

	file, err := parquet.OpenFile(f, stat.Size())
	require.NoError(t, err)

	reader := parquet.NewGenericReader[Sample](f)
	defer reader.Close()

	samples := make([]Sample, reader.NumRows())
	n, err := reader.Read(samples)
	if !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return samples[:n], file
}

func TestExporter_Export(t *testing.T) {
	path := createCapture(t,
		&iq.Frame{Direction: iq.RX, Timestamp: 1000, Antennas: [][]iq.Sample{
			{{Real: 100, Imag: -50}, {Real: 0, Imag: 32767}},
			{{Real: -32768, Imag: 1}, {Real: 2, Imag: 3}},
		}},
		&iq.Frame{Direction: iq.RX, Timestamp: 1002, Antennas: [][]iq.Sample{
			{{Real: 7, Imag: 8}},
			{{Real: 9, Imag: 10}},
		}},
	)

	r, err := storage.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := t.TempDir()
	results, err := NewExporter(out, WithLogger(tu.Logger())).Export(context.Background(), r)
	require.NoError(t, err)

	// TX was never provisioned
	require.Len(t, results, 2)
	assert.Equal(t, "rx_group/antenna0", results[0].Table)
	assert.Equal(t, filepath.Join(out, "capture_rx_antenna0.parquet"), results[0].Path)
	assert.Equal(t, int64(3), results[0].Rows)
	assert.Equal(t, "rx_group/antenna1", results[1].Table)

	samples, file := readSamples(t, results[0].Path)
	assert.Equal(t, []Sample{
		{Timestamp: 1000, Count: 0, Real: 100, Imaginary: -50},
		{Timestamp: 1000, Count: 1, Real: 0, Imaginary: 32767},
		{Timestamp: 1002, Count: 0, Real: 7, Imaginary: 8},
	}, samples)

	table, ok := file.Lookup("table")
	assert.True(t, ok)
	assert.Equal(t, "rx_group/antenna0", table)
	name, _ := file.Lookup("session_name")
	assert.Equal(t, "export-test", name)

	samples, _ = readSamples(t, results[1].Path)
	require.Len(t, samples, 3)
	assert.Equal(t, int32(-32768), samples[0].Real)
}

func TestExporter_RefusesToOverwrite(t *testing.T) {
	path := createCapture(t, &iq.Frame{Direction: iq.TX, Timestamp: 1, Antennas: [][]iq.Sample{{{Real: 1, Imag: 1}}}})

	r, err := storage.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "capture_tx_antenna0.parquet"), []byte("keep"), 0o600))

	_, err = NewExporter(out).Export(context.Background(), r)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestWriteParquet_Batches(t *testing.T) {
	samples := make([]iq.Sample, batchSize+10)
	for i := range samples {
		samples[i] = iq.Sample{Real: int16(i), Imag: int16(-i)}
	}
	path := createCapture(t, &iq.Frame{Direction: iq.RX, Timestamp: 5, Antennas: [][]iq.Sample{samples}})

	r, err := storage.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Rows(context.Background(), iq.RX, 0)
	require.NoError(t, err)
	defer it.Close()

	out := filepath.Join(t.TempDir(), "rows.parquet")
	f, err := os.Create(out)
	require.NoError(t, err)

	n, err := WriteParquet(f, it, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, int64(len(samples)), n)

	got, _ := readSamples(t, out)
	require.Len(t, got, len(samples))
	assert.Equal(t, Sample{Timestamp: 5, Count: batchSize + 9, Real: batchSize + 9, Imaginary: -(batchSize + 9)}, got[len(got)-1])
}
