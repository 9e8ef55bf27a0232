// Package visualization exports orthogonal views of a loaded volume as
// images: single slices, whole slice sequences and flat maximum-intensity
// projections.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"volumexr/internal/models"
	"volumexr/pkg/colormap"
)

// Axis is the axis perpendicular to an extracted plane.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	return [...]string{"x", "y", "z"}[a]
}

// ParseAxis accepts x, y or z in either case.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return AxisX, fmt.Errorf("invalid axis: %s (must be x, y, or z)", s)
}

// Viewer renders planes of a VoxelField. Samples are mapped from
// [ClampLow, ClampHigh] to gray, or through Palette when it is set.
type Viewer struct {
	field *models.VoxelField

	ClampLow, ClampHigh float32
	Palette             *colormap.Palette
}

// NewViewer creates a viewer over field with the [0, 1] clamp range.
func NewViewer(field *models.VoxelField) *Viewer {
	return &Viewer{field: field, ClampLow: 0, ClampHigh: 1}
}

// Extent returns how many planes lie along axis.
func (v *Viewer) Extent(axis Axis) int {
	d := v.field.Dims()
	return [...]int{d.X, d.Y, d.Z}[axis]
}

// planeSize returns the image size of a plane perpendicular to axis. X
// planes are laid out z by y, Y planes x by z and Z planes x by y.
func (v *Viewer) planeSize(axis Axis) (w, h int) {
	d := v.field.Dims()
	switch axis {
	case AxisX:
		return d.Z, d.Y
	case AxisY:
		return d.X, d.Z
	}
	return d.X, d.Y
}

// voxel maps image pixel (i, j) of plane pos to volume coordinates.
func voxel(axis Axis, pos, i, j int) (x, y, z int) {
	switch axis {
	case AxisX:
		return pos, j, i
	case AxisY:
		return i, pos, j
	}
	return i, j, pos
}

func (v *Viewer) color(s float32) color.Color {
	t := (s - v.ClampLow) / (v.ClampHigh - v.ClampLow)
	t = min(max(t, 0), 1)
	if v.Palette != nil {
		return v.Palette.Lookup(t)
	}
	return color.Gray16{Y: uint16(t * 65535)}
}

func (v *Viewer) newImage(w, h int) draw.Image {
	if v.Palette != nil {
		return image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return image.NewGray16(image.Rect(0, 0, w, h))
}

// ExtractSlice extracts the plane at position pos perpendicular to axis.
func (v *Viewer) ExtractSlice(axis Axis, pos int) (image.Image, error) {
	if pos < 0 || pos >= v.Extent(axis) {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", pos, v.Extent(axis), axis)
	}
	w, h := v.planeSize(axis)
	img := v.newImage(w, h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			img.Set(i, j, v.color(v.field.At(voxel(axis, pos, i, j))))
		}
	}
	return img, nil
}

// Projection collapses the volume along axis keeping the maximum sample of
// every ray.
func (v *Viewer) Projection(axis Axis) image.Image {
	w, h := v.planeSize(axis)
	img := v.newImage(w, h)
	n := v.Extent(axis)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			best := v.field.At(voxel(axis, 0, i, j))
			for pos := 1; pos < n; pos++ {
				best = max(best, v.field.At(voxel(axis, pos, i, j)))
			}
			img.Set(i, j, v.color(best))
		}
	}
	return img
}

// ExtractRegion copies the box starting at start with the given size into a
// new field.
func (v *Viewer) ExtractRegion(start, size models.Dims) (*models.VoxelField, error) {
	if start.X < 0 || start.Y < 0 || start.Z < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if !size.Valid() {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	d := v.field.Dims()
	if start.X+size.X > d.X || start.Y+size.Y > d.Y || start.Z+size.Z > d.Z {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float32, 0, size.Count())
	for z := 0; z < size.Z; z++ {
		for y := 0; y < size.Y; y++ {
			row := v.field.Index(start.X, start.Y+y, start.Z+z)
			region = append(region, v.field.Samples()[row:row+size.X]...)
		}
	}
	return models.NewVoxelField(size, region)
}

// SaveSlice writes img as PNG, or as JPEG when filename ends in .jpg or
// .jpeg.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence writes every plane along axis to outputDir as
// slice_<axis>_<nnn>.<ext>, where ext is "png" or "jpg".
func (v *Viewer) SaveSliceSequence(axis Axis, outputDir, ext string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	if ext == "" {
		ext = "png"
	}

	var files []string
	for pos := 0; pos < v.Extent(axis); pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return files, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", axis, pos, ext))
		if err := SaveSlice(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}
