package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVoxelField(t *testing.T) {
	dims := Dims{X: 3, Y: 2, Z: 4}
	samples := make([]float32, dims.Count())
	for i := range samples {
		samples[i] = float32(i)
	}

	f, err := NewVoxelField(dims, samples)
	require.NoError(t, err)
	assert.Equal(t, dims, f.Dims())
	assert.Equal(t, 24, f.Len())
	assert.Equal(t, 4, dims.Max())

	// x varies fastest, then y, then z
	assert.Equal(t, float32(1), f.At(1, 0, 0))
	assert.Equal(t, float32(3), f.At(0, 1, 0))
	assert.Equal(t, float32(6), f.At(0, 0, 1))
	assert.Equal(t, float32(23), f.At(2, 1, 3))
}

func TestNewVoxelFieldMalformed(t *testing.T) {
	cases := []struct {
		name    string
		dims    Dims
		samples int
	}{
		{"short", Dims{2, 2, 2}, 7},
		{"long", Dims{2, 2, 2}, 9},
		{"zero dim", Dims{0, 2, 2}, 0},
		{"negative dim", Dims{-1, 2, 2}, 4},
		{"product wraps to zero", Dims{1 << 32, 1 << 32, 1}, 0},
		{"product wraps negative", Dims{1 << 62, 2, 1}, 0},
		{"too many voxels", Dims{100000, 100000, 100000}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewVoxelField(tc.dims, make([]float32, tc.samples))
			assert.Nil(t, f)
			var mve *MalformedVolumeError
			require.True(t, errors.As(err, &mve), "expected MalformedVolumeError, got %v", err)
			assert.Equal(t, tc.samples, mve.Samples)
		})
	}
}

func TestDimsChecked(t *testing.T) {
	n, ok := Dims{4, 5, 6}.Checked()
	assert.True(t, ok)
	assert.Equal(t, 120, n)

	n, ok = Dims{MaxVoxels, 1, 1}.Checked()
	assert.True(t, ok)
	assert.Equal(t, MaxVoxels, n)

	_, ok = Dims{MaxVoxels, 2, 1}.Checked()
	assert.False(t, ok)
	_, ok = Dims{1 << 32, 1 << 32, 1}.Checked()
	assert.False(t, ok)
	assert.False(t, Dims{1 << 32, 1 << 32, 1}.Valid())

	err := &MalformedVolumeError{Dims: Dims{1 << 32, 1 << 32, 1}}
	assert.Contains(t, err.Error(), "exceed")
}

func TestStatsAndNormalize(t *testing.T) {
	f, err := NewVoxelField(Dims{2, 2, 1}, []float32{2, 4, 6, 8})
	require.NoError(t, err)

	st := f.Stats()
	assert.Equal(t, 2.0, st.Min)
	assert.Equal(t, 8.0, st.Max)
	assert.InDelta(t, 5.0, st.Mean, 1e-9)
	assert.Greater(t, st.StdDev, 0.0)

	n := f.Normalize()
	assert.Equal(t, f.Dims(), n.Dims())
	assert.InDeltaSlice(t, []float32{0, 1.0 / 3, 2.0 / 3, 1}, n.Samples(), 1e-6)

	// source is untouched
	assert.Equal(t, float32(2), f.At(0, 0, 0))
}

func TestNormalizeConstant(t *testing.T) {
	f, err := NewVoxelField(Dims{1, 1, 3}, []float32{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, f.Normalize().Samples())
}
