package raymarch

import (
	"image/color"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/spatial/r3"
)

type vec3 [3]float32

func (a vec3) add(b vec3) vec3 { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec3) sub(b vec3) vec3 { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vec3) mul(s float32) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a vec3) div(b vec3) vec3 { return vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]} }
func (a vec3) dot(b vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a vec3) length() float32 { return math32.Sqrt(a.dot(a)) }
func fromR3(v r3.Vec) vec3 { return vec3{float32(v.X), float32(v.Y), float32(v.Z)} }
func (a vec3) normalize() vec3 {
	l := a.length()
	if l == 0 {
		return a
	}
	return a.mul(1 / l)
}

// Fragment is the result of marching one ray.
type Fragment struct {
	Color color.RGBA
	// Steps is the number of coarse steps the ray was split into.
	Steps int
	// HitStep is the coarse step at which the isosurface was found, or the
	// step holding the maximum in projection mode.
	HitStep int
}

// TraceRay marches a ray given in object space, where the volume box spans
// [0, u_size]. The second result is false when the fragment is discarded:
// program unbound, ray misses the box, box thinner than one step, or the
// composited alpha stays below DiscardAlpha.
func (p *Program) TraceRay(origin, dir r3.Vec) (Fragment, bool) {
	if !p.bound || p.u.Data == nil || p.u.CMData == nil {
		return Fragment{}, false
	}
	size := vec3(p.u.Size)
	o := fromR3(origin)
	d := fromR3(dir).normalize()

	tNear, tFar, ok := intersectBox(o, d, size)
	if !ok {
		return Fragment{}, false
	}
	tNear = math32.Max(tNear, 0)
	front := o.add(d.mul(tNear))
	back := o.add(d.mul(tFar))

	nsteps := int((tFar-tNear)/RelativeStepSize + 0.5)
	if nsteps < 1 {
		return Fragment{}, false
	}
	step := back.sub(front).div(size).mul(1 / float32(nsteps))
	start := front.div(size)
	// long rays keep their step length and stop after MaxSteps samples
	march := min(nsteps, MaxSteps)

	var frag Fragment
	if p.u.RenderStyle == 0 {
		frag = p.castMIP(start, step, march)
	} else {
		var hit bool
		frag, hit = p.castIso(start, step, march, d.mul(-1))
		if !hit {
			return Fragment{Steps: nsteps}, false
		}
	}
	frag.Steps = nsteps
	if float32(frag.Color.A)/255 < DiscardAlpha {
		return frag, false
	}
	return frag, true
}

// intersectBox returns the ray parameters where o + t*d enters and leaves the
// box [0, size].
func intersectBox(o, d, size vec3) (tNear, tFar float32, ok bool) {
	tNear, tFar = math32.Inf(-1), math32.Inf(1)
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < 0 || o[i] > size[i] {
				return 0, 0, false
			}
			continue
		}
		t0 := (0 - o[i]) / d[i]
		t1 := (size[i] - o[i]) / d[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tNear = math32.Max(tNear, t0)
		tFar = math32.Min(tFar, t1)
	}
	if tFar <= math32.Max(tNear, 0) {
		return 0, 0, false
	}
	return tNear, tFar, true
}

func (p *Program) sample(loc vec3) float32 {
	v := p.u.Data.Sample(loc[0], loc[1], loc[2])
	return math32.Min(math32.Max(v, p.u.Clim[0]), p.u.Clim[1])
}

func (p *Program) applyColormap(val float32) color.RGBA {
	t := (val - p.u.Clim[0]) / (p.u.Clim[1] - p.u.Clim[0])
	return p.u.CMData.Lookup(t)
}

func (p *Program) castMIP(start, step vec3, nsteps int) Fragment {
	maxVal := float32(-1e6)
	maxI := 0
	loc := start
	for i := 0; i < nsteps; i++ {
		if v := p.sample(loc); v > maxVal {
			maxVal, maxI = v, i
		}
		loc = loc.add(step)
	}

	iloc := start.add(step.mul(float32(maxI) - 0.5))
	istep := step.mul(1.0 / RefinementSteps)
	for i := 0; i < RefinementSteps; i++ {
		maxVal = math32.Max(maxVal, p.sample(iloc))
		iloc = iloc.add(istep)
	}
	return Fragment{Color: p.applyColormap(maxVal), HitStep: maxI}
}

func (p *Program) castIso(start, step vec3, nsteps int, viewRay vec3) (Fragment, bool) {
	size := vec3(p.u.Size)
	dstep := vec3{1.5 / size[0], 1.5 / size[1], 1.5 / size[2]}
	low := p.u.RenderThreshold - isoBand*(p.u.Clim[1]-p.u.Clim[0])

	loc := start
	for i := 0; i < nsteps; i++ {
		if p.sample(loc) > low {
			iloc := loc.sub(step.mul(0.5))
			istep := step.mul(1.0 / RefinementSteps)
			for r := 0; r < RefinementSteps; r++ {
				if v := p.sample(iloc); v > p.u.RenderThreshold {
					return Fragment{Color: p.shade(v, iloc, dstep, viewRay), HitStep: i}, true
				}
				iloc = iloc.add(istep)
			}
		}
		loc = loc.add(step)
	}
	return Fragment{}, false
}

// shade lights the isosurface sample with a headlight: ambient plus Lambert
// plus a Blinn-Phong highlight, the normal taken from the sample gradient.
func (p *Program) shade(val float32, loc, dstep, viewRay vec3) color.RGBA {
	var n vec3
	for axis := 0; axis < 3; axis++ {
		var off vec3
		off[axis] = dstep[axis]
		a := p.sample(loc.sub(off))
		b := p.sample(loc.add(off))
		n[axis] = a - b
		val = math32.Max(math32.Max(a, b), val)
	}

	v := viewRay.normalize()
	if n.length() > 0 {
		n = n.normalize()
	} else {
		n = v
	}
	if n.dot(v) <= 0 {
		n = n.mul(-1)
	}
	lambert := math32.Min(math32.Max(n.dot(v), 0), 1)
	h := v.add(v).normalize()
	spec := specular * math32.Pow(math32.Max(h.dot(n), 0), shininess)

	base := p.applyColormap(val)
	light := ambient + lambert
	ch := func(c uint8) uint8 {
		f := float32(c)/255*light + spec
		return uint8(math32.Min(math32.Max(f, 0), 1)*255 + 0.5)
	}
	return color.RGBA{ch(base.R), ch(base.G), ch(base.B), base.A}
}
