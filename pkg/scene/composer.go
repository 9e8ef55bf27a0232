// Package scene composes the volume, its spatial frames and the control
// panels into one engine scene, and runs the per-frame tick that keeps them
// in sync.
package scene

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/internal/models"
	"volumexr/pkg/colormap"
	"volumexr/pkg/control"
	"volumexr/pkg/engine"
	"volumexr/pkg/loader"
	"volumexr/pkg/raymarch"
	"volumexr/pkg/spatial"
	"volumexr/pkg/style"
	"volumexr/pkg/texture"
)

// Background is the clear color of snapshots.
var Background = color.RGBA{R: 0x10, G: 0x12, B: 0x18, A: 0xff}

// controllers is the number of tracked pointing devices.
const controllers = 2

type event struct {
	pointer *control.PointerEvent

	// load completion
	source string
	field  *models.VoxelField
	err    error
	done   loader.Done
}

// loaded is the volume slot. It is nil until a load completes.
type loaded struct {
	name  string
	field *models.VoxelField
	tex   *texture.Volume
}

type nodes struct {
	yaw, rotate, placement, volume engine.Node
	floor, grid, light             engine.Node
	transformPanel, dataPanel      engine.Node
	controllers                    [controllers]engine.Node
}

// Composer owns the render style state and is its single writer. Every
// method except Load and PostPointer must run on the engine's frame
// goroutine.
type Composer struct {
	opts     Options
	eng      engine.Engine
	palettes *colormap.Set

	state   *style.State
	program *raymarch.Program
	frames  *spatial.Hierarchy
	group   *control.Group

	transformPanel *control.Panel
	dataPanel      *control.Panel

	mu     sync.Mutex
	events []event

	vol   *loaded
	nodes nodes
	frame uint64
	log   *logrus.Entry
}

// New builds the scene graph on eng and registers the tick with it.
func New(opts Options, eng engine.Engine) (*Composer, error) {
	palettes, err := colormap.NewSet()
	if err != nil {
		return nil, fmt.Errorf("building colormaps: %w", err)
	}
	state := opts.initialState()
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("initial render style: %w", err)
	}

	c := &Composer{
		opts:     opts,
		eng:      eng,
		palettes: palettes,
		state:    state,
		program:  raymarch.NewProgram(palettes),
		frames:   spatial.NewHierarchy(opts.GlobalScale, opts.Correction),
		group:    control.NewGroup(),
		log:      logrus.WithField("component", "scene"),
	}
	if err := c.buildNodes(); err != nil {
		return nil, err
	}
	c.buildPanels()
	c.pushTransforms()

	eng.OnFrame(c.Tick)
	return c, nil
}

func (c *Composer) buildNodes() error {
	e := c.eng
	n := &c.nodes
	n.yaw = e.NewNode("volume-yaw")
	n.rotate = e.NewNode("volume-rotate")
	n.placement = e.NewNode("volume-placement")
	n.volume = e.NewNode("volume")
	n.floor = e.NewNode("floor")
	n.grid = e.NewNode("grid")
	n.light = e.NewNode("light")
	n.transformPanel = e.NewNode("panel-transform")
	n.dataPanel = e.NewNode("panel-data")
	for i := range n.controllers {
		n.controllers[i] = e.NewNode(fmt.Sprintf("controller-%d", i))
	}

	links := [][2]engine.Node{
		{n.yaw, n.rotate},
		{n.rotate, n.placement},
		{n.placement, n.volume},
	}
	for _, l := range links {
		if err := e.Attach(l[0], l[1]); err != nil {
			return fmt.Errorf("building volume frames: %w", err)
		}
	}

	// nothing to show until a volume arrives
	if err := e.SetVisible(n.yaw, false); err != nil {
		return err
	}
	if err := e.SetTransform(n.floor, spatial.Compose(r3.Vec{}, spatial.Identity, r3.Vec{X: 20, Y: 1, Z: 20})); err != nil {
		return err
	}
	if err := e.SetTransform(n.grid, spatial.Compose(r3.Vec{Y: 0.001}, spatial.Identity, r3.Vec{X: 20, Y: 1, Z: 20})); err != nil {
		return err
	}
	return e.SetTransform(n.light, spatial.Compose(r3.Vec{Y: 3}, spatial.Identity, r3.Vec{X: 1, Y: 1, Z: 1}))
}

// buildPanels creates both panels hidden, places them as billboards facing
// the viewer, then surfaces them into the interactive group.
func (c *Composer) buildPanels() {
	anchor := c.opts.ViewerPosition
	c.transformPanel = control.NewTransformPanel(c.opts.PanelWidth, c.state, c)
	c.dataPanel = control.NewDataPanel(c.opts.PanelWidth, c.state, c)
	c.transformPanel.Place(c.opts.PanelBase, anchor, c.opts.PanelOffset, c.opts.PanelScale)
	c.dataPanel.Place(c.opts.PanelBase, anchor, -c.opts.PanelOffset, c.opts.PanelScale)

	for _, pn := range []struct {
		panel *control.Panel
		node  engine.Node
	}{
		{c.transformPanel, c.nodes.transformPanel},
		{c.dataPanel, c.nodes.dataPanel},
	} {
		c.logErr(c.eng.SetSurface(pn.node, pn.panel.Surface()))
		c.group.Add(pn.panel)
		pn.panel.Repaint()
	}
}

// React applies the side effect of a changed field. It is the only path
// from a panel interaction to the frames and uniforms.
func (c *Composer) React(f style.Field) {
	s := c.state
	switch f {
	case style.FieldScale:
		c.frames.SetScale(s.Scale)
	case style.FieldYaw:
		c.frames.SetYaw(s.YawDeg)
	case style.FieldPitch:
		c.frames.SetPitch(s.PitchDeg)
	case style.FieldMode:
		c.program.SetRenderStyle(s.Mode)
	case style.FieldThreshold:
		c.program.SetThreshold(s.Threshold)
	case style.FieldColormap:
		c.program.SetColormap(s.ColormapID)
	}
	c.log.WithFields(logrus.Fields{"field": f, "value": s.Value(f)}).Debug("style changed")
}

// Load starts loading src in the background. The volume is bound and placed
// on the frame goroutine during the first tick after the load finishes, and
// done (which may be nil) is called there with the outcome.
func (c *Composer) Load(src loader.Source, done loader.Done) {
	name := src.String()
	loader.Request(src, func(field *models.VoxelField, err error) {
		c.post(event{source: name, field: field, err: err, done: done})
	})
}

// PostPointer queues a pointer sample for the next tick. It is safe to call
// from device goroutines.
func (c *Composer) PostPointer(ev control.PointerEvent) {
	c.post(event{pointer: &ev})
}

func (c *Composer) post(ev event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Tick advances the scene by one frame.
func (c *Composer) Tick(dt time.Duration) {
	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()

	for _, ev := range events {
		if ev.pointer != nil {
			c.handlePointer(*ev.pointer)
			continue
		}
		c.finishLoad(ev)
	}

	if c.vol != nil {
		c.frames.AdvanceYaw(c.opts.RotationSpeed)
	}
	c.group.Repaint()
	c.program.Refresh(c.state)
	c.pushTransforms()
	c.frame++
}

func (c *Composer) handlePointer(ev control.PointerEvent) {
	c.group.Handle(ev)
	if ev.Device < 0 || ev.Device >= controllers || r3.Norm(ev.Dir) == 0 {
		return
	}
	q := spatial.LookAt(ev.Origin, r3.Add(ev.Origin, ev.Dir), spatial.AxisY)
	c.logErr(c.eng.SetTransform(c.nodes.controllers[ev.Device], spatial.Compose(ev.Origin, q, r3.Vec{X: 1, Y: 1, Z: 1})))
}

func (c *Composer) finishLoad(ev event) {
	log := c.log.WithField("volume", ev.source)
	err := ev.err
	if err == nil {
		err = c.install(ev.source, ev.field)
	}
	if err != nil {
		var mve *models.MalformedVolumeError
		if errors.As(err, &mve) {
			log.WithError(err).Error("volume rejected")
		} else {
			log.WithError(err).Error("volume load failed")
		}
	}
	if ev.done != nil {
		if err != nil {
			ev.done(nil, err)
		} else {
			ev.done(ev.field, nil)
		}
	}
}

// install binds field to the program and places it in front of the viewer.
// A previously loaded volume is replaced.
func (c *Composer) install(name string, field *models.VoxelField) error {
	tex, err := texture.New(field)
	if err != nil {
		return err
	}
	if err := tex.Upload(c.eng); err != nil {
		return err
	}
	if c.vol != nil {
		c.Unload()
	}

	c.program.Bind(tex, c.state)
	dims := field.Dims()
	c.frames.CenterGeometry(dims)
	anchor := c.opts.ViewerPosition
	c.frames.Place(c.opts.Placement.Center(anchor, c.opts.ViewerDirection, dims), anchor)
	c.frames.SetScale(c.state.Scale)
	c.frames.SetRotation(c.state.YawDeg, c.state.PitchDeg)

	c.vol = &loaded{name: name, field: field, tex: tex}
	c.logErr(c.eng.SetProgram(c.nodes.volume, c.program))
	c.logErr(c.eng.SetVisible(c.nodes.yaw, true))
	c.transformPanel.Sync()
	c.dataPanel.Sync()

	st := field.Stats()
	c.log.WithFields(logrus.Fields{
		"volume": name,
		"dims":   dims,
		"min":    st.Min,
		"max":    st.Max,
		"mean":   st.Mean,
	}).Info("volume bound")
	return nil
}

// Unload releases the bound volume, returning to the not-loaded state.
func (c *Composer) Unload() {
	if c.vol == nil {
		return
	}
	c.program.Unbind()
	c.vol.tex.Release()
	c.logErr(c.eng.SetProgram(c.nodes.volume, nil))
	c.logErr(c.eng.SetVisible(c.nodes.yaw, false))
	c.log.WithField("volume", c.vol.name).Info("volume unloaded")
	c.vol = nil
}

// pushTransforms copies every frame's world matrix to its engine node.
func (c *Composer) pushTransforms() {
	h := c.frames
	for _, ft := range []struct {
		node  engine.Node
		frame *spatial.Frame
	}{
		{c.nodes.yaw, h.Yaw},
		{c.nodes.rotate, h.Rotate},
		{c.nodes.placement, h.Placement},
		{c.nodes.volume, h.Geometry},
	} {
		c.logErr(c.eng.SetTransform(ft.node, ft.frame.World()))
	}
	for _, pn := range []struct {
		panel *control.Panel
		node  engine.Node
	}{
		{c.transformPanel, c.nodes.transformPanel},
		{c.dataPanel, c.nodes.dataPanel},
	} {
		w, hgt := pn.panel.Size()
		c.logErr(c.eng.SetTransform(pn.node, spatial.Compose(pn.panel.Position, pn.panel.Orientation, r3.Vec{X: w, Y: hgt, Z: 1})))
	}
}

func (c *Composer) logErr(err error) {
	if err != nil {
		c.log.WithField("frame", c.frame).WithError(err).Warn("engine call failed")
	}
}

// Camera is the viewer's camera.
func (c *Composer) Camera() raymarch.Camera {
	return raymarch.Camera{
		Position: c.opts.ViewerPosition,
		Forward:  c.opts.ViewerDirection,
		Up:       spatial.AxisY,
		FOV:      c.opts.FOV,
	}
}

// Snapshot renders the volume as seen from the viewer with the CPU tracer.
// Without a volume the image is plain background.
func (c *Composer) Snapshot(ctx context.Context, w, h int) (*image.RGBA, error) {
	inv, err := c.frames.ObjectFromWorld()
	if err != nil {
		return nil, err
	}
	return raymarch.Snapshot(ctx, c.program, c.Camera(), inv, w, h, image.NewUniform(Background), raymarch.RenderOptions{Workers: c.opts.Workers})
}

// Volume returns the loaded field, if any.
func (c *Composer) Volume() (*models.VoxelField, bool) {
	if c.vol == nil {
		return nil, false
	}
	return c.vol.field, true
}

// State returns the render style state. Callers must not write it.
func (c *Composer) State() *style.State { return c.state }

// Program returns the ray-march program.
func (c *Composer) Program() *raymarch.Program { return c.program }

// Frames returns the spatial hierarchy of the volume.
func (c *Composer) Frames() *spatial.Hierarchy { return c.frames }

// Panels returns the transform and data panels.
func (c *Composer) Panels() (transform, data *control.Panel) {
	return c.transformPanel, c.dataPanel
}

// Group returns the interactive panel group.
func (c *Composer) Group() *control.Group { return c.group }

// Frame is the number of completed ticks.
func (c *Composer) Frame() uint64 { return c.frame }
