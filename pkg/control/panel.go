// Package control implements the in-world control panels. Each panel mirrors a
// few RenderStyleState fields as slider widgets: reading initializes the
// widgets from the state, and an interaction writes the new value back and
// synchronously triggers the field's reaction.
package control

import (
	"image"

	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/pkg/spatial"
	"volumexr/pkg/style"
)

// Reactor applies the side effect of a field change, such as rebinding a
// shader uniform or recomputing a frame transform.
type Reactor interface {
	React(f style.Field)
}

// MetersPerPixel converts surface pixels to world units before panel scale.
const MetersPerPixel = 0.001

// Layout constants of the rasterized surface, in pixels.
const (
	DefaultWidth = 250
	titleHeight  = 24
	rowHeight    = 28
	padding      = 6
)

// Panel is one control surface.
type Panel struct {
	Title   string
	Widgets []*Widget

	state   *style.State
	reactor Reactor

	width   int
	surface *image.RGBA
	dirty   bool
	paints  uint64

	// world billboard
	Position    r3.Vec
	Orientation r3.Rotation
	Scale       float64

	interactive bool
}

// NewPanel builds a panel editing fields of state. The panel never replaces
// state; it only reads and writes its fields.
func NewPanel(title string, width int, state *style.State, reactor Reactor, fields ...style.Field) *Panel {
	if width <= 0 {
		width = DefaultWidth
	}
	p := &Panel{
		Title:       title,
		state:       state,
		reactor:     reactor,
		width:       width,
		Orientation: spatial.Identity,
		Scale:       1,
	}
	for _, f := range fields {
		p.Widgets = append(p.Widgets, newWidget(f))
	}
	p.surface = image.NewRGBA(image.Rect(0, 0, width, titleHeight+len(fields)*rowHeight+padding))
	p.Sync()
	return p
}

// NewTransformPanel returns the panel with the scale, yaw and pitch sliders.
func NewTransformPanel(width int, state *style.State, reactor Reactor) *Panel {
	return NewPanel("Spatial Transforms", width, state, reactor,
		style.FieldScale, style.FieldYaw, style.FieldPitch)
}

// NewDataPanel returns the panel with the mode, threshold and colormap sliders.
func NewDataPanel(width int, state *style.State, reactor Reactor) *Panel {
	return NewPanel("Volume Visualization", width, state, reactor,
		style.FieldMode, style.FieldThreshold, style.FieldColormap)
}

// Sync reloads every widget's displayed value from the state.
func (p *Panel) Sync() {
	for _, w := range p.Widgets {
		w.value = p.state.Value(w.Field)
	}
	p.dirty = true
}

// Widget returns the widget bound to f.
func (p *Panel) Widget(f style.Field) (*Widget, bool) {
	for _, w := range p.Widgets {
		if w.Field == f {
			return w, true
		}
	}
	return nil, false
}

// SetValue writes v into the state field f, then runs the field reaction.
// It reports whether the stored value changed; unchanged values do not react.
func (p *Panel) SetValue(f style.Field, v float64) bool {
	w, ok := p.Widget(f)
	if !ok {
		return false
	}
	changed := p.state.Set(f, v)
	w.value = p.state.Value(f)
	p.dirty = true
	if changed && p.reactor != nil {
		p.reactor.React(f)
	}
	return changed
}

// Place sets the world billboard: the panel sits at base shifted by lateral
// along its own X axis and faces anchor.
func (p *Panel) Place(base, anchor r3.Vec, lateral, scale float64) {
	p.Position, p.Orientation = spatial.Billboard(base, anchor, lateral)
	p.Scale = scale
}

// Size returns the world-space width and height of the panel quad.
func (p *Panel) Size() (w, h float64) {
	b := p.surface.Bounds()
	return float64(b.Dx()) * MetersPerPixel * p.Scale, float64(b.Dy()) * MetersPerPixel * p.Scale
}

// Interactive reports whether the panel was surfaced into a Group.
func (p *Panel) Interactive() bool { return p.interactive }

// Surface returns the rasterized texture.
func (p *Panel) Surface() *image.RGBA { return p.surface }

// Dirty reports whether the surface needs a repaint.
func (p *Panel) Dirty() bool { return p.dirty }

// Paints returns how many times the surface was rasterized.
func (p *Panel) Paints() uint64 { return p.paints }

// MarkDirty flags the surface for the next Repaint.
func (p *Panel) MarkDirty() { p.dirty = true }

// Repaint rasterizes the surface if it is dirty and advances widget hover
// animations.
func (p *Panel) Repaint() {
	if !p.dirty {
		return
	}
	for _, w := range p.Widgets {
		w.animate()
	}
	p.draw()
	p.dirty = false
	p.paints++
}

// Hit intersects a world ray with the panel quad and returns the hit point in
// surface pixels and the ray distance.
func (p *Panel) Hit(origin, dir r3.Vec) (pt image.Point, dist float64, ok bool) {
	n := p.Orientation.Rotate(spatial.AxisZ)
	denom := r3.Dot(dir, n)
	if denom > -1e-9 && denom < 1e-9 {
		return image.Point{}, 0, false
	}
	t := r3.Dot(r3.Sub(p.Position, origin), n) / denom
	if t < 0 {
		return image.Point{}, 0, false
	}
	hit := r3.Add(origin, r3.Scale(t, dir))
	rel := r3.Sub(hit, p.Position)
	w, h := p.Size()
	u := r3.Dot(rel, p.Orientation.Rotate(spatial.AxisX))/w + 0.5
	v := 0.5 - r3.Dot(rel, p.Orientation.Rotate(spatial.AxisY))/h
	if u < 0 || u > 1 || v < 0 || v > 1 {
		return image.Point{}, 0, false
	}
	b := p.surface.Bounds()
	px := min(int(u*float64(b.Dx())), b.Dx()-1)
	py := min(int(v*float64(b.Dy())), b.Dy()-1)
	return image.Pt(px, py), t * r3.Norm(dir), true
}

// widgetAt returns the widget whose row contains surface point pt.
func (p *Panel) widgetAt(pt image.Point) (*Widget, bool) {
	if pt.Y < titleHeight {
		return nil, false
	}
	i := (pt.Y - titleHeight) / rowHeight
	if i < 0 || i >= len(p.Widgets) {
		return nil, false
	}
	return p.Widgets[i], true
}

// trackSpan returns the x extent of slider tracks.
func (p *Panel) trackSpan() (x0, x1 int) {
	return p.width * 9 / 20, p.width - 44
}

// valueAtX maps a surface x coordinate onto the range of w.
func (p *Panel) valueAtX(w *Widget, x int) float64 {
	x0, x1 := p.trackSpan()
	t := float64(x-x0) / float64(x1-x0)
	t = min(max(t, 0), 1)
	return w.Range.Min + t*(w.Range.Max-w.Range.Min)
}
