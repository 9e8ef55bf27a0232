package raymarch

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/internal/models"
	"volumexr/pkg/style"
	"volumexr/pkg/texture"
)

func isoState(threshold float32) *style.State {
	s := style.Default()
	s.Mode = style.Isosurface
	s.Threshold = threshold
	return s
}

func TestIsosurfaceBelowThresholdIsEmpty(t *testing.T) {
	p, _ := boundProgram(t, constantVolume(t, 4, 0.5), isoState(0.6))

	_, ok := p.TraceRay(r3.Vec{X: -3, Y: 2, Z: 2}, r3.Vec{X: 1})
	assert.False(t, ok)

	bg := color.RGBA{10, 20, 30, 255}
	cam := Camera{Position: r3.Vec{X: 2, Y: 2, Z: -6}, Forward: r3.Vec{Z: 1}, Up: r3.Vec{Y: 1}, FOV: 80}
	img, err := Snapshot(context.Background(), p, cam, identity4(), 16, 16, image.NewUniform(bg), RenderOptions{Workers: 2})
	require.NoError(t, err)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			require.Equal(t, bg, img.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestIsosurfaceHitsAtFirstStep(t *testing.T) {
	p, _ := boundProgram(t, constantVolume(t, 4, 0.5), isoState(0.4))

	rays := []struct{ o, d r3.Vec }{
		{r3.Vec{X: -3, Y: 2, Z: 2}, r3.Vec{X: 1}},
		{r3.Vec{X: 2, Y: 2, Z: 10}, r3.Vec{Z: -1}},
		{r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 1, Y: 1, Z: 1}},
	}
	for _, r := range rays {
		frag, ok := p.TraceRay(r.o, r.d)
		require.True(t, ok, "ray %v", r)
		assert.Equal(t, 0, frag.HitStep)
		assert.GreaterOrEqual(t, frag.Steps, 4)
		assert.Equal(t, uint8(255), frag.Color.A)
	}

	cam := Camera{Position: r3.Vec{X: 2, Y: 2, Z: -6}, Forward: r3.Vec{Z: 1}, Up: r3.Vec{Y: 1}, FOV: 30}
	img, err := Snapshot(context.Background(), p, cam, identity4(), 9, 9, image.Black, RenderOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(4, 4), "center pixel must show the surface")
}

func TestIsosurfaceFindsNearestSurface(t *testing.T) {
	// a slab of high values at z >= 6 inside a 1x1x10 column
	dims := models.Dims{X: 1, Y: 1, Z: 10}
	samples := make([]float32, 10)
	for z := 6; z < 10; z++ {
		samples[z] = 1
	}
	vol, err := texture.FromSamples(dims, samples)
	require.NoError(t, err)
	p, _ := boundProgram(t, vol, isoState(0.5))

	frag, ok := p.TraceRay(r3.Vec{X: 0.5, Y: 0.5, Z: -2}, r3.Vec{Z: 1})
	require.True(t, ok)
	assert.Equal(t, 10, frag.Steps)
	assert.InDelta(t, 6, frag.HitStep, 1)

	// marching from the other side the slab is right at the entry
	frag, ok = p.TraceRay(r3.Vec{X: 0.5, Y: 0.5, Z: 12}, r3.Vec{Z: -1})
	require.True(t, ok)
	assert.Equal(t, 0, frag.HitStep)
}

func TestProjectionIgnoresThreshold(t *testing.T) {
	s := style.Default()
	s.Mode = style.Projection
	vol := constantVolume(t, 4, 0.5)
	p, set := boundProgram(t, vol, s)

	o, d := r3.Vec{X: -3, Y: 2, Z: 2}, r3.Vec{X: 1}
	a, ok := p.TraceRay(o, d)
	require.True(t, ok)
	p.SetThreshold(0.99)
	b, ok := p.TraceRay(o, d)
	require.True(t, ok)
	assert.Equal(t, a.Color, b.Color)

	pal, _ := set.Get(1)
	assert.Equal(t, pal.Lookup(0.5), a.Color)
}

func TestProjectionFindsMaximum(t *testing.T) {
	dims := models.Dims{X: 8, Y: 1, Z: 1}
	samples := []float32{0, 0.1, 0.2, 0.9, 0.3, 0.1, 0, 0}
	vol, err := texture.FromSamples(dims, samples)
	require.NoError(t, err)
	s := style.Default()
	s.Mode = style.Projection
	p, _ := boundProgram(t, vol, s)

	frag, ok := p.TraceRay(r3.Vec{X: -1, Y: 0.5, Z: 0.5}, r3.Vec{X: 1})
	require.True(t, ok)
	assert.Equal(t, 8, frag.Steps)
	assert.InDelta(t, 3, frag.HitStep, 1)
}

func TestLongRayStopsAfterMaxSteps(t *testing.T) {
	// the only bright voxels sit beyond the first MaxSteps voxels of the ray
	dims := models.Dims{X: 1, Y: 1, Z: 1000}
	samples := make([]float32, dims.Count())
	for z := 950; z < 1000; z++ {
		samples[z] = 1
	}
	vol, err := texture.FromSamples(dims, samples)
	require.NoError(t, err)

	s := style.Default()
	s.Mode = style.Projection
	p, set := boundProgram(t, vol, s)
	o, d := r3.Vec{X: 0.5, Y: 0.5, Z: -1}, r3.Vec{Z: 1}

	frag, ok := p.TraceRay(o, d)
	require.True(t, ok)
	assert.Equal(t, 1000, frag.Steps)
	assert.Equal(t, 0, frag.HitStep)
	pal, _ := set.Get(1)
	assert.Equal(t, pal.Lookup(0), frag.Color)

	p.SetRenderStyle(style.Isosurface)
	p.SetThreshold(0.5)
	_, ok = p.TraceRay(o, d)
	assert.False(t, ok, "the surface lies past the last marched sample")

	// from the other end the slab is reached immediately
	frag, ok = p.TraceRay(r3.Vec{X: 0.5, Y: 0.5, Z: 1001}, r3.Vec{Z: -1})
	require.True(t, ok)
	assert.Equal(t, 0, frag.HitStep)
}

func TestClimClampsBeforeComparison(t *testing.T) {
	// every sample is 2.0, far above the clamp ceiling
	p, set := boundProgram(t, constantVolume(t, 4, 2), func() *style.State {
		s := style.Default()
		s.Mode = style.Projection
		return s
	}())
	frag, ok := p.TraceRay(r3.Vec{X: -3, Y: 2, Z: 2}, r3.Vec{X: 1})
	require.True(t, ok)
	pal, _ := set.Get(1)
	assert.Equal(t, pal.Lookup(1), frag.Color)

	// with the ceiling at 0.3 a threshold of 0.5 can never be crossed
	p.SetRenderStyle(style.Isosurface)
	p.SetClim(0, 0.3)
	p.SetThreshold(0.5)
	_, ok = p.TraceRay(r3.Vec{X: -3, Y: 2, Z: 2}, r3.Vec{X: 1})
	assert.False(t, ok)
}

func TestCameraInsideBox(t *testing.T) {
	p, _ := boundProgram(t, constantVolume(t, 8, 0.5), isoState(0.4))
	frag, ok := p.TraceRay(r3.Vec{X: 4, Y: 4, Z: 4}, r3.Vec{Z: 1})
	require.True(t, ok)
	assert.Equal(t, 4, frag.Steps)
	assert.Equal(t, 0, frag.HitStep)
}

func TestRayMissesBox(t *testing.T) {
	p, _ := boundProgram(t, constantVolume(t, 4, 0.5), isoState(0.4))
	for _, r := range []struct{ o, d r3.Vec }{
		{r3.Vec{X: -3, Y: 10, Z: 2}, r3.Vec{X: 1}},
		{r3.Vec{X: 6, Y: 2, Z: 2}, r3.Vec{X: 1}},
		{r3.Vec{X: 2, Y: 2, Z: -5}, r3.Vec{Y: 1}},
	} {
		_, ok := p.TraceRay(r.o, r.d)
		assert.False(t, ok, "ray %v", r)
	}
}

func TestCameraRay(t *testing.T) {
	cam := Camera{Position: r3.Vec{Y: 1.7}, Forward: r3.Vec{Z: -1}, Up: r3.Vec{Y: 1}, FOV: 80}
	o, d := cam.Ray(50, 50, 101, 101)
	assert.Equal(t, cam.Position, o)
	assert.InDelta(t, -1, d.Z, 1e-9)

	_, left := cam.Ray(0, 50, 101, 101)
	_, right := cam.Ray(100, 50, 101, 101)
	assert.Less(t, left.X, 0.0)
	assert.Greater(t, right.X, 0.0)

	_, top := cam.Ray(50, 0, 101, 101)
	assert.Greater(t, top.Y, 0.0)
}

func TestRenderHonorsCancellation(t *testing.T) {
	p, _ := boundProgram(t, constantVolume(t, 4, 0.5), isoState(0.4))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	cam := Camera{Position: r3.Vec{X: 2, Y: 2, Z: -6}, Forward: r3.Vec{Z: 1}, FOV: 60}
	assert.ErrorIs(t, Render(ctx, p, cam, identity4(), img, RenderOptions{}), context.Canceled)
}

func TestShaderSourcesEmbedded(t *testing.T) {
	for _, name := range []string{UniformData, UniformSize, UniformClim, UniformRenderStyle, UniformRenderThreshold, UniformColormap} {
		assert.Contains(t, FragmentShader, name)
	}
	assert.Contains(t, VertexShader, "u_size")
}
