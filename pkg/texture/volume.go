// Package texture turns a loaded VoxelField into a 3D texture: the upload
// descriptor a GPU engine needs and a software sampler that mirrors the GPU
// fetch for the CPU tracer.
package texture

import (
	"fmt"

	"github.com/chewxy/math32"

	"volumexr/internal/models"
)

// Format is the texel format of a volume texture.
type Format int

const (
	// FormatR32F is a single float32 channel.
	FormatR32F Format = iota
)

func (f Format) String() string {
	switch f {
	case FormatR32F:
		return "R32F"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Filter is the sampling filter of a texture.
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// BytesPerTexel is the size of one R32F texel.
const BytesPerTexel = 4

// Descriptor describes how a volume must be uploaded. The unpack alignment of
// one byte is required: with the default of four, volumes whose row length is
// not a multiple of four bytes are read with padding and sample garbage at
// row boundaries.
type Descriptor struct {
	Dims            models.Dims
	Format          Format
	MinFilter       Filter
	MagFilter       Filter
	UnpackAlignment int
	MipLevels       int
}

// ByteSize returns the GPU memory needed for the texture.
func (d Descriptor) ByteSize() int {
	return d.Dims.Count() * BytesPerTexel
}

// Handle identifies an uploaded texture inside an engine.
type Handle uint32

// Uploader is implemented by graphics devices able to allocate 3D textures.
type Uploader interface {
	UploadVolume(desc Descriptor, samples []float32) (Handle, error)
	ReleaseTexture(h Handle)
}

// Volume is a GPU-resident 3D scalar texture built from a VoxelField.
// It is static: there is no partial update after the first upload.
type Volume struct {
	desc    Descriptor
	samples []float32

	uploader Uploader
	handle   Handle
	uploaded bool
}

// New builds the texture for field. The sample count must equal nx*ny*nz,
// otherwise a *models.MalformedVolumeError is returned and nothing is kept.
func New(field *models.VoxelField) (*Volume, error) {
	if field == nil {
		return nil, &models.MalformedVolumeError{}
	}
	dims := field.Dims()
	if !dims.Valid() || field.Len() != dims.Count() {
		return nil, &models.MalformedVolumeError{Dims: dims, Samples: field.Len()}
	}
	return &Volume{
		desc: Descriptor{
			Dims:            dims,
			Format:          FormatR32F,
			MinFilter:       FilterLinear,
			MagFilter:       FilterLinear,
			UnpackAlignment: 1,
			MipLevels:       1,
		},
		samples: field.Samples(),
	}, nil
}

// FromSamples validates and wraps raw samples in one step.
func FromSamples(dims models.Dims, samples []float32) (*Volume, error) {
	field, err := models.NewVoxelField(dims, samples)
	if err != nil {
		return nil, err
	}
	return New(field)
}

// Descriptor returns the upload descriptor.
func (v *Volume) Descriptor() Descriptor { return v.desc }

// Dims returns the texture dimensions, equal to the source field's.
func (v *Volume) Dims() models.Dims { return v.desc.Dims }

// Handle returns the engine handle and whether the texture was uploaded.
func (v *Volume) Handle() (Handle, bool) { return v.handle, v.uploaded }

// Upload allocates the texture on u. Calling it again is a no-op.
func (v *Volume) Upload(u Uploader) error {
	if v.uploaded {
		return nil
	}
	h, err := u.UploadVolume(v.desc, v.samples)
	if err != nil {
		return fmt.Errorf("uploading %s volume texture: %w", v.desc.Dims, err)
	}
	v.uploader, v.handle, v.uploaded = u, h, true
	return nil
}

// Release frees the GPU allocation, if any.
func (v *Volume) Release() {
	if v.uploaded {
		v.uploader.ReleaseTexture(v.handle)
	}
	v.uploader, v.handle, v.uploaded = nil, 0, false
}

// texel fetches with clamp-to-edge addressing.
func (v *Volume) texel(x, y, z int) float32 {
	d := v.desc.Dims
	x = min(max(x, 0), d.X-1)
	y = min(max(y, 0), d.Y-1)
	z = min(max(z, 0), d.Z-1)
	return v.samples[z*d.X*d.Y+y*d.X+x]
}

// Sample returns the linearly filtered value at normalized texture
// coordinates (u, v, w), where texel i covers [i/n, (i+1)/n) and its center
// sits at (i+0.5)/n.
func (v *Volume) Sample(u, vv, w float32) float32 {
	d := v.desc.Dims
	fx := u*float32(d.X) - 0.5
	fy := vv*float32(d.Y) - 0.5
	fz := w*float32(d.Z) - 0.5

	x0f, y0f, z0f := math32.Floor(fx), math32.Floor(fy), math32.Floor(fz)
	tx, ty, tz := fx-x0f, fy-y0f, fz-z0f
	x0, y0, z0 := int(x0f), int(y0f), int(z0f)

	c00 := lerp(v.texel(x0, y0, z0), v.texel(x0+1, y0, z0), tx)
	c10 := lerp(v.texel(x0, y0+1, z0), v.texel(x0+1, y0+1, z0), tx)
	c01 := lerp(v.texel(x0, y0, z0+1), v.texel(x0+1, y0, z0+1), tx)
	c11 := lerp(v.texel(x0, y0+1, z0+1), v.texel(x0+1, y0+1, z0+1), tx)
	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
