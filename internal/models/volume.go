// Package models holds the data types shared across volumexr packages.
package models

import (
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat"
)

// Dims holds the voxel counts along each axis.
type Dims struct {
	X, Y, Z int
}

// MaxVoxels bounds nx*ny*nz so a float32 copy of the field stays within
// 2 GiB.
const MaxVoxels = 1 << 29

// Count returns the number of voxels nx*ny*nz. It is only meaningful when
// Valid reports true; use Checked for untrusted dimensions.
func (d Dims) Count() int {
	return d.X * d.Y * d.Z
}

// Checked returns nx*ny*nz and false when a dimension is not positive or the
// product overflows or exceeds MaxVoxels.
func (d Dims) Checked() (int, bool) {
	if d.X < 1 || d.Y < 1 || d.Z < 1 {
		return 0, false
	}
	hi, xy := bits.Mul64(uint64(d.X), uint64(d.Y))
	if hi != 0 {
		return 0, false
	}
	hi, n := bits.Mul64(xy, uint64(d.Z))
	if hi != 0 || n > MaxVoxels {
		return 0, false
	}
	return int(n), true
}

// Max returns the largest of the three dimensions.
func (d Dims) Max() int {
	return max(d.X, d.Y, d.Z)
}

// Valid reports whether every dimension is at least one voxel and the total
// stays within MaxVoxels.
func (d Dims) Valid() bool {
	_, ok := d.Checked()
	return ok
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.X, d.Y, d.Z)
}

// MalformedVolumeError is returned when the sample count of a volume does not
// match its dimensions, a dimension is not positive, or the volume is larger
// than MaxVoxels.
type MalformedVolumeError struct {
	Dims    Dims
	Samples int
}

func (e *MalformedVolumeError) Error() string {
	d := e.Dims
	if d.X < 1 || d.Y < 1 || d.Z < 1 {
		return fmt.Sprintf("malformed volume: dimensions %s must all be positive", d)
	}
	if !d.Valid() {
		return fmt.Sprintf("malformed volume: dimensions %s exceed %d voxels", d, MaxVoxels)
	}
	return fmt.Sprintf("malformed volume: %d samples for dimensions %s (want %d)",
		e.Samples, e.Dims, e.Dims.Count())
}

// VoxelField is an immutable scalar volume.
//
// Samples are laid out with x varying fastest, then y, then z, so the voxel
// (x, y, z) lives at index z*nx*ny + y*nx + x.
type VoxelField struct {
	dims    Dims
	samples []float32
}

// NewVoxelField validates the sample count against dims and wraps the
// samples without copying. The caller must not modify samples afterwards.
func NewVoxelField(dims Dims, samples []float32) (*VoxelField, error) {
	if !dims.Valid() || len(samples) != dims.Count() {
		return nil, &MalformedVolumeError{Dims: dims, Samples: len(samples)}
	}
	return &VoxelField{dims: dims, samples: samples}, nil
}

// Dims returns the voxel dimensions.
func (f *VoxelField) Dims() Dims { return f.dims }

// Len returns the number of samples.
func (f *VoxelField) Len() int { return len(f.samples) }

// Samples returns the flat sample slice. It must be treated as read-only.
func (f *VoxelField) Samples() []float32 { return f.samples }

// Index returns the flat index of voxel (x, y, z).
func (f *VoxelField) Index(x, y, z int) int {
	return z*f.dims.X*f.dims.Y + y*f.dims.X + x
}

// At returns the sample at voxel (x, y, z).
func (f *VoxelField) At(x, y, z int) float32 {
	return f.samples[f.Index(x, y, z)]
}

// Stats summarizes the intensity distribution of a field.
type Stats struct {
	Min, Max     float64
	Mean, StdDev float64
}

// statsSampleLimit caps how many voxels feed the mean/stddev estimate, large
// scans are strided down to about this many samples.
const statsSampleLimit = 1 << 20

// Stats computes the exact range and a strided estimate of mean and standard
// deviation.
func (f *VoxelField) Stats() Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range f.samples {
		fv := float64(v)
		if fv < s.Min {
			s.Min = fv
		}
		if fv > s.Max {
			s.Max = fv
		}
	}

	stride := max(1, len(f.samples)/statsSampleLimit)
	sub := make([]float64, 0, len(f.samples)/stride+1)
	for i := 0; i < len(f.samples); i += stride {
		sub = append(sub, float64(f.samples[i]))
	}
	s.Mean, s.StdDev = stat.MeanStdDev(sub, nil)
	if len(sub) < 2 {
		s.StdDev = 0
	}
	return s
}

// Normalize returns a new field whose samples are rescaled linearly from
// [min, max] to [0, 1]. A constant field maps to all zeros.
func (f *VoxelField) Normalize() *VoxelField {
	st := f.Stats()
	out := make([]float32, len(f.samples))
	span := st.Max - st.Min
	if span > 0 {
		lo := float32(st.Min)
		inv := float32(1 / span)
		for i, v := range f.samples {
			out[i] = (v - lo) * inv
		}
	}
	return &VoxelField{dims: f.dims, samples: out}
}

// Slice is a single 2D image plane read from a slice stack.
type Slice struct {
	// Index is the position of this slice in the sequence
	Index int

	// Filename is the original filename of the slice
	Filename string

	// Width and Height are the plane dimensions in pixels
	Width, Height int

	// Values holds row-major intensities in [0, 1]
	Values []float32
}
