package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/internal/models"
	"volumexr/pkg/colormap"
	"volumexr/pkg/raymarch"
	"volumexr/pkg/spatial"
	"volumexr/pkg/style"
	"volumexr/pkg/texture"
)

func TestNodeTree(t *testing.T) {
	h := NewHeadless()
	a := h.NewNode("a")
	b := h.NewNode("b")
	require.NoError(t, h.Attach(a, b))

	root, ok := h.Node(Root)
	require.True(t, ok)
	assert.Equal(t, []Node{a}, root.Children)

	info, ok := h.Node(b)
	require.True(t, ok)
	assert.Equal(t, a, info.Parent)
	assert.True(t, info.Visible)

	found, ok := h.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, b, found)
	_, ok = h.Lookup("missing")
	assert.False(t, ok)

	assert.Error(t, h.Attach(b, a), "cycle")
	assert.ErrorIs(t, h.Attach(a, Node(42)), ErrUnknownNode)
	assert.ErrorIs(t, h.SetVisible(Node(42), false), ErrUnknownNode)
	assert.ErrorIs(t, h.Attach(a, Root), ErrUnknownNode)
}

func TestTransformIsCopied(t *testing.T) {
	h := NewHeadless()
	n := h.NewNode("n")
	m := spatial.Compose(r3.Vec{X: 1}, spatial.Identity, r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, h.SetTransform(n, m))
	m.Set(0, 3, 99)

	info, _ := h.Node(n)
	assert.Equal(t, 1.0, info.World.At(0, 3))
}

func TestTextureAccounting(t *testing.T) {
	h := NewHeadless()
	vol, err := texture.FromSamples(models.Dims{X: 2, Y: 2, Z: 2}, make([]float32, 8))
	require.NoError(t, err)
	require.NoError(t, vol.Upload(h))
	assert.Equal(t, 1, h.Textures())
	assert.Equal(t, 32, h.TextureBytes())

	vol.Release()
	assert.Equal(t, 0, h.Textures())
	assert.Equal(t, 0, h.TextureBytes())
}

func TestStepRunsCallbacksInOrder(t *testing.T) {
	h := NewHeadless()
	var order []int
	h.OnFrame(func(time.Duration) { order = append(order, 1) })
	h.OnFrame(func(time.Duration) { order = append(order, 2) })
	h.Step(16 * time.Millisecond)
	h.Step(16 * time.Millisecond)
	assert.Equal(t, []int{1, 2, 1, 2}, order)
	assert.Equal(t, uint64(2), h.Frames())
}

func TestRunStopsAfterLimitOrCancel(t *testing.T) {
	h := NewHeadless()
	var n atomic.Int32
	h.OnFrame(func(dt time.Duration) {
		n.Add(1)
		assert.Greater(t, dt, time.Duration(0))
	})
	require.NoError(t, h.Run(context.Background(), time.Millisecond, 3))
	assert.Equal(t, int32(3), n.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Run(ctx, time.Hour, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRenderDrawsVisibleVolumes(t *testing.T) {
	h := NewHeadless()
	set, err := colormap.NewSet()
	require.NoError(t, err)
	samples := make([]float32, 64)
	for i := range samples {
		samples[i] = 0.5
	}
	vol, err := texture.FromSamples(models.Dims{X: 4, Y: 4, Z: 4}, samples)
	require.NoError(t, err)
	s := style.Default()
	s.Threshold = 0.4
	p := raymarch.NewProgram(set)
	p.Bind(vol, s)

	n := h.NewNode("volume")
	require.NoError(t, h.SetProgram(n, p))
	require.NoError(t, h.SetTransform(n, spatial.Compose(r3.Vec{X: -2, Y: -2, Z: -2}, spatial.Identity, r3.Vec{X: 1, Y: 1, Z: 1})))

	cam := raymarch.Camera{Position: r3.Vec{Z: 20}, Forward: r3.Vec{Z: -1}, Up: r3.Vec{Y: 1}, FOV: 30}
	bg := color.RGBA{0, 0, 0, 255}
	img, err := h.Render(context.Background(), cam, 9, 9, bg, raymarch.RenderOptions{Workers: 1})
	require.NoError(t, err)
	assert.NotEqual(t, bg, img.RGBAAt(4, 4))
	assert.Equal(t, bg, img.RGBAAt(0, 0))

	require.NoError(t, h.SetVisible(Root, false))
	img, err = h.Render(context.Background(), cam, 9, 9, bg, raymarch.RenderOptions{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, bg, img.RGBAAt(4, 4))
}

func TestRenderSkipsSingularTransform(t *testing.T) {
	h := NewHeadless()
	set, err := colormap.NewSet()
	require.NoError(t, err)
	vol, err := texture.FromSamples(models.Dims{X: 1, Y: 1, Z: 1}, []float32{1})
	require.NoError(t, err)
	p := raymarch.NewProgram(set)
	p.Bind(vol, style.Default())

	n := h.NewNode("flat")
	require.NoError(t, h.SetProgram(n, p))
	require.NoError(t, h.SetTransform(n, mat.NewDense(4, 4, nil)))
	require.NoError(t, h.SetSurface(n, image.NewRGBA(image.Rect(0, 0, 1, 1))))

	cam := raymarch.Camera{Position: r3.Vec{Z: 5}, Forward: r3.Vec{Z: -1}, Up: r3.Vec{Y: 1}, FOV: 60}
	img, err := h.Render(context.Background(), cam, 4, 4, color.White, raymarch.RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(2, 2))
}

func TestWalkSkipsHiddenSubtrees(t *testing.T) {
	h := NewHeadless()
	a := h.NewNode("a")
	b := h.NewNode("b")
	c := h.NewNode("c")
	require.NoError(t, h.Attach(a, b))
	require.NoError(t, h.SetVisible(c, false))

	var names []string
	h.Walk(func(_ Node, info NodeInfo) { names = append(names, info.Name) })
	assert.Equal(t, []string{"root", "a", "b"}, names)

	require.NoError(t, h.SetVisible(a, false))
	names = nil
	h.Walk(func(_ Node, info NodeInfo) { names = append(names, info.Name) })
	assert.Equal(t, []string{"root"}, names)
}
