package terrain

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/geo"
)

const (
	testRows = 181
	testCols = 361
)

// writeGrid writes a one-degree grid where cell (row, col) holds fn(row, col).
func writeGrid(t *testing.T, fn func(row, col int) int16) string {
	t.Helper()
	buf := make([]byte, testRows*testCols*2)
	for r := 0; r < testRows; r++ {
		for c := 0; c < testCols; c++ {
			binary.LittleEndian.PutUint16(buf[(r*testCols+c)*2:], uint16(fn(r, c)))
		}
	}
	path := filepath.Join(t.TempDir(), "grid.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestGridHandle_Elevation(t *testing.T) {
	path := writeGrid(t, func(row, col int) int16 {
		if row == 80 && col == 200 {
			return 1234
		}
		if row == 100 {
			return -4000
		}
		return 0
	})

	g, err := OpenGrid(path, testRows, testCols)
	require.NoError(t, err)
	defer g.Close()

	v, err := g.Elevation(10, 20)
	require.NoError(t, err)
	assert.Equal(t, int16(1234), v)

	v, err = g.Elevation(-10, 77)
	require.NoError(t, err)
	assert.Equal(t, int16(-4000), v)

	_, err = g.Elevation(91, 0)
	assert.Error(t, err)

	hs, err := g.Sample(context.Background(), 5, []geo.Point{{Lat: 10, Lon: 20}, {Lat: 0, Lon: 0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1234, 0}, hs)

	assert.True(t, g.Local())
	assert.Equal(t, geo.WorldBound, g.Coverage())
}

func TestOpenGrid_SizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	_, err := OpenGrid(path, testRows, testCols)
	assert.Error(t, err)

	_, err = OpenGrid(path, 1, 1)
	assert.Error(t, err)
}

func TestFileLoader(t *testing.T) {
	path := writeGrid(t, func(row, col int) int16 { return 7 })

	h, err := FileLoader{Rows: testRows, Cols: testCols}.Load(context.Background(), "file://"+path)
	require.NoError(t, err)
	defer h.(*GridHandle).Close()
	assert.Equal(t, "grid:"+path, h.Name())

	_, err = FileLoader{Rows: testRows, Cols: testCols}.Load(context.Background(), filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
