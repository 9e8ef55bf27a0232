package raymarch

import (
	"context"
	"image"
	"image/draw"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/pkg/spatial"
)

// Camera is a pinhole camera in world space.
type Camera struct {
	Position r3.Vec
	Forward  r3.Vec
	Up       r3.Vec
	// FOV is the vertical field of view in degrees.
	FOV float64
}

// Ray returns the world-space ray through the center of pixel (px, py) of a
// w x h image.
func (c Camera) Ray(px, py, w, h int) (origin, dir r3.Vec) {
	fwd := r3.Unit(c.Forward)
	up := c.Up
	if r3.Norm(up) == 0 {
		up = spatial.AxisY
	}
	right := r3.Unit(r3.Cross(fwd, up))
	up = r3.Cross(right, fwd)

	tanHalf := math.Tan(c.FOV * math.Pi / 360)
	aspect := float64(w) / float64(h)
	sx := (2*(float64(px)+0.5)/float64(w) - 1) * tanHalf * aspect
	sy := (1 - 2*(float64(py)+0.5)/float64(h)) * tanHalf

	dir = r3.Add(fwd, r3.Add(r3.Scale(sx, right), r3.Scale(sy, up)))
	return c.Position, r3.Unit(dir)
}

// RenderOptions controls a CPU render.
type RenderOptions struct {
	// Workers bounds the number of goroutines; zero means runtime.NumCPU().
	Workers int
}

// Render ray-marches the volume bound to p into dst. objectFromWorld maps
// world coordinates into the volume's object space. Pixels whose fragments
// are discarded keep their current value, so dst should already hold the
// background. An unbound program leaves dst untouched.
func Render(ctx context.Context, p *Program, cam Camera, objectFromWorld *mat.Dense, dst draw.Image, opts RenderOptions) error {
	if !p.Bound() {
		return nil
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for y := 0; y < h; y++ {
		y := y
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := 0; x < w; x++ {
				o, d := cam.Ray(x, y, w, h)
				oo := spatial.TransformPoint(objectFromWorld, o)
				od := spatial.TransformDir(objectFromWorld, d)
				if frag, ok := p.TraceRay(oo, od); ok {
					dst.Set(b.Min.X+x, b.Min.Y+y, frag.Color)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Snapshot allocates a w x h image filled with bg and renders into it.
func Snapshot(ctx context.Context, p *Program, cam Camera, objectFromWorld *mat.Dense, w, h int, bg image.Image, opts RenderOptions) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), bg, image.Point{}, draw.Src)
	if err := Render(ctx, p, cam, objectFromWorld, img, opts); err != nil {
		return nil, err
	}
	return img, nil
}
