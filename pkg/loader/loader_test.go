package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumexr/internal/models"
)

func writeNRRD(t *testing.T, dir, name, header string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteString("\n")
	buf.Write(payload)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNRRDRawUchar(t *testing.T) {
	dir := t.TempDir()
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	path := writeNRRD(t, dir, "cube.nrrd", `NRRD0004
# a comment
type: uchar
dimension: 3
sizes: 2 2 2
encoding: raw
space directions: (1,0,0) (0,1,0) (0,0,1)
`, payload)

	src, err := Open(path, Options{})
	require.NoError(t, err)
	require.IsType(t, &NRRD{}, src)

	field, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Dims{X: 2, Y: 2, Z: 2}, field.Dims())
	assert.Equal(t, float32(5), field.At(1, 0, 1))
}

func TestNRRDGzipFloatBigEndianNormalized(t *testing.T) {
	dir := t.TempDir()
	values := []float32{2, 4, 6, 10}
	var raw bytes.Buffer
	require.NoError(t, binary.Write(&raw, binary.BigEndian, values))
	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := writeNRRD(t, dir, "ramp.nrrd", `NRRD0005
type: float
dimension: 3
sizes: 4 1 1
endian: big
encoding: gzip
`, zipped.Bytes())

	field, err := (&NRRD{Path: path, Options: Options{Normalize: true}}).Load(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.25, 0.5, 1}, field.Samples(), 1e-6)
}

func TestNRRDDetachedShort(t *testing.T) {
	dir := t.TempDir()
	var raw bytes.Buffer
	require.NoError(t, binary.Write(&raw, binary.LittleEndian, []int16{-3, 7}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.raw"), raw.Bytes(), 0o644))
	path := writeNRRD(t, dir, "head.nhdr", `NRRD0004
type: short
dimension: 3
sizes: 1 2 1
encoding: raw
data file: data.raw
`, nil)

	field, err := (&NRRD{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float32{-3, 7}, field.Samples())
}

func TestNRRDErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		header  string
		payload []byte
	}{
		{"not nrrd", "P5 2 2", nil},
		{"two dimensional", "NRRD0004\ntype: uchar\ndimension: 2\nsizes: 2 2\nencoding: raw\n", []byte{1, 2, 3, 4}},
		{"bad encoding", "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1 1\nencoding: bzip2\n", []byte{1}},
		{"bad type", "NRRD0004\ntype: block\ndimension: 3\nsizes: 1 1 1\nencoding: raw\n", []byte{1}},
		{"short payload", "NRRD0004\ntype: ushort\ndimension: 3\nsizes: 2 2 2\nencoding: raw\n", []byte{1, 2}},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeNRRD(t, dir, fmt.Sprintf("bad%d.nrrd", i), tc.header, tc.payload)
			_, err := Load(context.Background(), &NRRD{Path: path})
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, path, le.Source)
		})
	}
}

func TestNRRDBadSizesAreMalformed(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		sizes string
	}{
		{"zero", "0 2 2"},
		{"product overflows", "4294967296 4294967296 1"},
		{"too many voxels", "100000 100000 100000"},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: " + tc.sizes + "\nencoding: raw\n"
			path := writeNRRD(t, dir, fmt.Sprintf("sizes%d.nrrd", i), header, nil)
			field, err := Load(context.Background(), &NRRD{Path: path})
			assert.Nil(t, field)
			var mve *models.MalformedVolumeError
			require.ErrorAs(t, err, &mve)
			var le *LoadError
			assert.False(t, errors.As(err, &le))
		})
	}
}

func TestNRRDFloatNaNIsZero(t *testing.T) {
	dir := t.TempDir()
	nan := float32(math.NaN())
	var f32 bytes.Buffer
	require.NoError(t, binary.Write(&f32, binary.LittleEndian, []float32{nan, 0.5}))
	var f64 bytes.Buffer
	require.NoError(t, binary.Write(&f64, binary.LittleEndian, []float64{0.25, math.NaN()}))

	tests := []struct {
		kind    string
		payload []byte
		want    []float32
	}{
		{"float", f32.Bytes(), []float32{0, 0.5}},
		{"double", f64.Bytes(), []float32{0.25, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			header := "NRRD0004\ntype: " + tc.kind + "\ndimension: 3\nsizes: 2 1 1\nencoding: raw\n"
			path := writeNRRD(t, dir, tc.kind+".nrrd", header, tc.payload)
			field, err := (&NRRD{Path: path}).Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, field.Samples())
		})
	}
}

func writeSlice(t *testing.T, path string, w, h int, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestSliceDirStacksInNumericOrder(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "slice_10.png"), 3, 2, 255)
	writeSlice(t, filepath.Join(dir, "slice_2.png"), 3, 2, 0)
	writeSlice(t, filepath.Join(dir, "slice_3"), 3, 2, 51) // no extension, sniffed by content
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scan notes"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	src, err := Open(dir, Options{Workers: 2})
	require.NoError(t, err)
	field, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.Dims{X: 3, Y: 2, Z: 3}, field.Dims())
	assert.Equal(t, float32(0), field.At(0, 0, 0))
	assert.InDelta(t, 0.2, field.At(2, 1, 1), 1e-6)
	assert.Equal(t, float32(1), field.At(1, 1, 2))
}

func TestSliceDirMismatchedSizes(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "a1.png"), 3, 2, 10)
	writeSlice(t, filepath.Join(dir, "a2.png"), 2, 2, 10)

	_, err := Load(context.Background(), &SliceDir{Dir: dir})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "expected 3x2")
}

func TestSliceDirEmpty(t *testing.T) {
	_, err := Load(context.Background(), &SliceDir{Dir: t.TempDir()})
	var le *LoadError
	require.ErrorAs(t, err, &le)
}

func TestExtractNumber(t *testing.T) {
	testCases := []struct {
		filename string
		expected int
	}{
		{"slice_1.jpg", 1},
		{"slice_023.png", 23},
		{"img456.tif", 456},
		{"not_a_number.bmp", 0},
		{"mixed123text456.jpg", 123456},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, extractNumber(tc.filename), tc.filename)
	}
}

func TestOpenUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.dcm")
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))

	_, err := Open(path, Options{})
	var le *LoadError
	require.ErrorAs(t, err, &le)

	_, err = Open(filepath.Join(dir, "missing.nrrd"), Options{})
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemorySource(t *testing.T) {
	src := &Memory{Dims: models.Dims{X: 2, Y: 1, Z: 1}, Samples: []float32{1, 2}}
	assert.Equal(t, "memory:2x1x1", src.String())
	field, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, field.Len())

	bad := &Memory{Name: "short", Dims: models.Dims{X: 2, Y: 2, Z: 2}, Samples: []float32{1}}
	_, err = Load(context.Background(), bad)
	var mve *models.MalformedVolumeError
	assert.ErrorAs(t, err, &mve)
}

func TestRequestCallsDoneOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		got   *models.VoxelField
		gotEr error
	)
	finished := make(chan struct{})
	src := &Memory{Dims: models.Dims{X: 1, Y: 1, Z: 1}, Samples: []float32{0.5}}
	Request(src, func(field *models.VoxelField, err error) {
		mu.Lock()
		calls++
		got, gotEr = field, err
		mu.Unlock()
		close(finished)
	})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("load never completed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	require.NoError(t, gotEr)
	assert.Equal(t, float32(0.5), got.At(0, 0, 0))
}

func TestRequestReportsLoadError(t *testing.T) {
	errc := make(chan error, 1)
	src := Func{Name: "broken", Fn: func(context.Context) (*models.VoxelField, error) {
		return nil, errors.New("disk on fire")
	}}
	Request(src, func(field *models.VoxelField, err error) {
		assert.Nil(t, field)
		errc <- err
	})

	select {
	case err := <-errc:
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "broken", le.Source)
		assert.EqualError(t, err, "loading broken: disk on fire")
	case <-time.After(2 * time.Second):
		t.Fatal("load never completed")
	}
}
