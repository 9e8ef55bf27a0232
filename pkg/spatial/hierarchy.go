package spatial

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/internal/models"
)

// Hierarchy is the fixed three-level chain anchoring one volume:
//
//	yaw > rotate > placement > geometry
//
// The yaw frame is placed and aimed at the viewer once. The rotate frame
// carries the live yaw/pitch and uniform scale. The placement frame holds a
// constant axis correction. The geometry frame offsets the volume box by half
// its size so rotations happen about the box center.
type Hierarchy struct {
	Yaw       *Frame
	Rotate    *Frame
	Placement *Frame
	Geometry  *Frame

	globalScale float64
	yawRad      float64
	pitchRad    float64
	placed      bool
}

// NewHierarchy builds the nested frames. globalScale multiplies every user
// scale; correction is the constant rotation of the placement frame.
func NewHierarchy(globalScale float64, correction r3.Rotation) *Hierarchy {
	h := &Hierarchy{
		Yaw:         NewFrame("yaw"),
		Rotate:      NewFrame("rotate"),
		Placement:   NewFrame("placement"),
		Geometry:    NewFrame("geometry"),
		globalScale: globalScale,
	}
	h.Yaw.Add(h.Rotate)
	h.Rotate.Add(h.Placement)
	h.Placement.Add(h.Geometry)
	h.Placement.Orientation = correction
	h.SetScale(1)
	return h
}

// Place moves the yaw frame to center and turns it to face anchor.
func (h *Hierarchy) Place(center, anchor r3.Vec) {
	h.Yaw.Position = center
	h.Yaw.LookAt(anchor)
	h.placed = true
}

// Placed reports whether Place has run.
func (h *Hierarchy) Placed() bool { return h.placed }

// CenterGeometry offsets the geometry so that a box spanning [0, dims]
// rotates about its center.
func (h *Hierarchy) CenterGeometry(dims models.Dims) {
	h.Geometry.Position = r3.Vec{X: -float64(dims.X) / 2, Y: -float64(dims.Y) / 2, Z: -float64(dims.Z) / 2}
}

// SetScale applies userScale*globalScale uniformly on the rotate frame.
func (h *Hierarchy) SetScale(userScale float64) {
	h.Rotate.SetUniformScale(userScale * h.globalScale)
}

// SetRotation sets the rotate frame from yaw (about Y) and pitch (about X)
// in degrees.
func (h *Hierarchy) SetRotation(yawDeg, pitchDeg float64) {
	h.yawRad = yawDeg * math.Pi / 180
	h.pitchRad = pitchDeg * math.Pi / 180
	h.Rotate.SetEulerXYZ(h.pitchRad, h.yawRad, 0)
}

// SetYaw replaces only the yaw angle.
func (h *Hierarchy) SetYaw(yawDeg float64) {
	h.SetRotation(yawDeg, h.pitchRad*180/math.Pi)
}

// SetPitch replaces only the pitch angle.
func (h *Hierarchy) SetPitch(pitchDeg float64) {
	h.SetRotation(h.yawRad*180/math.Pi, pitchDeg)
}

// AdvanceYaw adds rad to the rotate frame's yaw, used for idle rotation.
func (h *Hierarchy) AdvanceYaw(rad float64) {
	h.yawRad = math.Remainder(h.yawRad+rad, 2*math.Pi)
	h.Rotate.SetEulerXYZ(h.pitchRad, h.yawRad, 0)
}

// Angles returns the current yaw and pitch of the rotate frame in radians.
func (h *Hierarchy) Angles() (yaw, pitch float64) {
	return h.yawRad, h.pitchRad
}

// ObjectFromWorld returns the matrix taking world coordinates into the
// volume's object space, where the box spans [0, dims].
func (h *Hierarchy) ObjectFromWorld() (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Geometry.World()); err != nil {
		return nil, fmt.Errorf("inverting volume transform: %w", err)
	}
	return &inv, nil
}

// PlacementMode selects how the volume center is derived.
type PlacementMode int

const (
	// PlaceForward puts the volume along the viewer's forward axis at a
	// distance proportional to its largest dimension.
	PlaceForward PlacementMode = iota
	// PlaceFixed puts the volume at a fixed world position.
	PlaceFixed
)

// ParsePlacementMode accepts "forward" or "fixed".
func ParsePlacementMode(s string) (PlacementMode, error) {
	switch s {
	case "forward", "":
		return PlaceForward, nil
	case "fixed":
		return PlaceFixed, nil
	}
	return PlaceForward, fmt.Errorf("unknown placement mode %q", s)
}

// Placement computes where a volume goes relative to the viewer.
type Placement struct {
	Mode PlacementMode
	// DistanceFactor scales the largest volume dimension in forward mode.
	DistanceFactor float64
	// Offset is the world position used in fixed mode.
	Offset r3.Vec
}

// Center returns the placement center for a volume of the given dims viewed
// from anchor looking along forward.
func (p Placement) Center(anchor, forward r3.Vec, dims models.Dims) r3.Vec {
	if p.Mode == PlaceFixed {
		return p.Offset
	}
	dir := forward
	if r3.Norm(dir) == 0 {
		dir = r3.Vec{Z: -1}
	}
	return r3.Add(anchor, r3.Scale(p.DistanceFactor*float64(dims.Max()), r3.Unit(dir)))
}

// Billboard returns a position and orientation facing anchor from base,
// shifted by lateral along the billboard's own X axis.
func Billboard(base, anchor r3.Vec, lateral float64) (r3.Vec, r3.Rotation) {
	q := LookAt(base, anchor, AxisY)
	side := q.Rotate(AxisX)
	return r3.Add(base, r3.Scale(lateral, side)), q
}
