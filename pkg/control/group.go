package control

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/spatial/r3"
)

// EventKind is the type of a pointer event.
type EventKind int

const (
	PointerMove EventKind = iota
	PointerDown
	PointerUp
)

func (k EventKind) String() string {
	switch k {
	case PointerMove:
		return "move"
	case PointerDown:
		return "down"
	case PointerUp:
		return "up"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// PointerEvent is a ray-casting pointer sample from a hand controller, in
// world space.
type PointerEvent struct {
	Device int
	Kind   EventKind
	Origin r3.Vec
	Dir    r3.Vec
}

type pointer struct {
	hover *Widget
	drag  *Widget
	panel *Panel
}

// Group is the interactive group: it owns the panels surfaced into the world
// and routes pointer events to them. All methods must run on the frame
// goroutine; events from several devices are handled one at a time.
type Group struct {
	panels   []*Panel
	pointers map[int]*pointer
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{pointers: make(map[int]*pointer)}
}

// Add surfaces p into the world, making it interactive.
func (g *Group) Add(p *Panel) {
	p.interactive = true
	g.panels = append(g.panels, p)
}

// Panels returns the interactive panels.
func (g *Group) Panels() []*Panel { return g.panels }

// Handle routes one pointer event. A press on a slider row starts a drag and
// sets the value under the pointer; moves while dragging keep setting it,
// even when the ray leaves the row; release ends the drag. It reports whether
// the event hit a panel.
func (g *Group) Handle(ev PointerEvent) bool {
	ptr := g.pointers[ev.Device]
	if ptr == nil {
		ptr = &pointer{}
		g.pointers[ev.Device] = ptr
	}

	panel, pt, hit := g.pick(ev.Origin, ev.Dir)

	if ptr.drag != nil {
		if hit && panel == ptr.panel {
			ptr.panel.SetValue(ptr.drag.Field, ptr.panel.valueAtX(ptr.drag, pt.X))
		}
		if ev.Kind == PointerUp {
			ptr.drag.active = false
			ptr.drag = nil
		}
	}

	var over *Widget
	if hit {
		over, _ = panel.widgetAt(pt)
	}
	if over != ptr.hover {
		if ptr.hover != nil {
			ptr.hover.hovered--
		}
		if over != nil {
			over.hovered++
		}
		ptr.hover = over
	}

	if ev.Kind == PointerDown && over != nil && ptr.drag == nil {
		ptr.drag, ptr.panel = over, panel
		over.active = true
		panel.SetValue(over.Field, panel.valueAtX(over, pt.X))
	}
	return hit
}

// pick returns the nearest interactive panel hit by the ray.
func (g *Group) pick(origin, dir r3.Vec) (*Panel, image.Point, bool) {
	var (
		best     *Panel
		bestPt   image.Point
		bestDist float64
	)
	for _, p := range g.panels {
		pt, d, ok := p.Hit(origin, dir)
		if ok && (best == nil || d < bestDist) {
			best, bestPt, bestDist = p, pt, d
		}
	}
	return best, bestPt, best != nil
}

// Repaint marks every panel dirty and redraws it. It runs once per frame
// whether or not a value changed, so hover animations keep advancing.
func (g *Group) Repaint() {
	for _, p := range g.panels {
		p.MarkDirty()
		p.Repaint()
	}
}
