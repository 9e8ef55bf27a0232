// Package raymarch binds a volume texture and render style into the uniform
// set of the volume ray-marching shader, and provides a CPU tracer that runs
// the same algorithm for snapshots and tests.
package raymarch

import (
	"github.com/sirupsen/logrus"

	"volumexr/pkg/colormap"
	"volumexr/pkg/style"
	"volumexr/pkg/texture"
)

// Uniform names consumed by the shader.
const (
	UniformData            = "u_data"
	UniformSize            = "u_size"
	UniformClim            = "u_clim"
	UniformRenderStyle     = "u_renderstyle"
	UniformRenderThreshold = "u_renderthreshold"
	UniformColormap        = "u_cmdata"
)

// Uniforms is the full uniform set of the volume shader.
type Uniforms struct {
	Data            *texture.Volume
	Size            [3]float32
	Clim            [2]float32
	RenderStyle     int32
	RenderThreshold float32
	CMData          *colormap.Palette
}

// Palettes resolves colormap ids to palette textures.
type Palettes interface {
	Get(id int) (*colormap.Palette, bool)
}

// Program is the shader program instance for one volume. Until Bind is
// called with a texture it is unbound: every setter is a no-op and nothing is
// drawn.
type Program struct {
	palettes Palettes
	u        Uniforms
	bound    bool
	version  uint64
}

// NewProgram returns an unbound program.
func NewProgram(palettes Palettes) *Program {
	return &Program{palettes: palettes}
}

// Bound reports whether a volume texture is bound.
func (p *Program) Bound() bool { return p.bound }

// Version increases every time a uniform value changes, so observers can
// detect edits without diffing every uniform.
func (p *Program) Version() uint64 { return p.version }

// Bind attaches tex and every field of s. A nil tex leaves the program
// unbound.
func (p *Program) Bind(tex *texture.Volume, s *style.State) {
	if tex == nil {
		return
	}
	d := tex.Dims()
	p.u = Uniforms{
		Data:            tex,
		Size:            [3]float32{float32(d.X), float32(d.Y), float32(d.Z)},
		Clim:            [2]float32{s.ClampLow, s.ClampHigh},
		RenderStyle:     s.Mode.Uniform(),
		RenderThreshold: s.Threshold,
	}
	p.u.CMData, _ = p.palettes.Get(s.ColormapID)
	p.bound = true
	p.version++
}

// Unbind drops the texture reference, returning to the not-loaded state.
func (p *Program) Unbind() {
	p.u = Uniforms{}
	p.bound = false
	p.version++
}

// Refresh re-affirms the dynamic uniforms from s. It is called once per frame.
func (p *Program) Refresh(s *style.State) {
	if !p.bound {
		return
	}
	p.SetRenderStyle(s.Mode)
	p.SetThreshold(s.Threshold)
	p.SetColormap(s.ColormapID)
	p.SetClim(s.ClampLow, s.ClampHigh)
}

func (p *Program) unbound(name string) bool {
	if p.bound {
		return false
	}
	logrus.WithField("uniform", name).Debug("ignoring uniform write, no volume bound")
	return true
}

// SetRenderStyle writes u_renderstyle. It reports false when unbound.
func (p *Program) SetRenderStyle(m style.Mode) bool {
	if p.unbound(UniformRenderStyle) {
		return false
	}
	if v := m.Uniform(); v != p.u.RenderStyle {
		p.u.RenderStyle = v
		p.version++
	}
	return true
}

// SetThreshold writes u_renderthreshold. It reports false when unbound.
func (p *Program) SetThreshold(t float32) bool {
	if p.unbound(UniformRenderThreshold) {
		return false
	}
	if t != p.u.RenderThreshold {
		p.u.RenderThreshold = t
		p.version++
	}
	return true
}

// SetColormap rebinds u_cmdata to the palette for id. It reports false when
// unbound or when id has no palette.
func (p *Program) SetColormap(id int) bool {
	if p.unbound(UniformColormap) {
		return false
	}
	pal, ok := p.palettes.Get(id)
	if !ok {
		logrus.WithField("colormap", id).Warn("unknown colormap id")
		return false
	}
	if pal != p.u.CMData {
		p.u.CMData = pal
		p.version++
	}
	return true
}

// SetClim writes u_clim. It reports false when unbound or lo >= hi.
func (p *Program) SetClim(lo, hi float32) bool {
	if p.unbound(UniformClim) || !(lo < hi) {
		return false
	}
	if c := [2]float32{lo, hi}; c != p.u.Clim {
		p.u.Clim = c
		p.version++
	}
	return true
}

// Uniforms returns a copy of the current uniform set.
func (p *Program) Uniforms() Uniforms { return p.u }

// Uniform reads back one uniform by its shader name. The second result is
// false when unbound or the name is unknown.
func (p *Program) Uniform(name string) (any, bool) {
	if !p.bound {
		return nil, false
	}
	switch name {
	case UniformData:
		return p.u.Data, true
	case UniformSize:
		return p.u.Size, true
	case UniformClim:
		return p.u.Clim, true
	case UniformRenderStyle:
		return p.u.RenderStyle, true
	case UniformRenderThreshold:
		return p.u.RenderThreshold, true
	case UniformColormap:
		return p.u.CMData, true
	}
	return nil, false
}
