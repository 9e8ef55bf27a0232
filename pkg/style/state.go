// Package style holds RenderStyleState, the mutable parameter set that the
// control panels edit and the ray-march program reads every frame.
//
// A State has a single writer: widget callbacks and the frame tick run on the
// same goroutine, so no locking is done here.
package style

import (
	"fmt"
	"math"
)

// Mode selects the ray-march shader branch.
type Mode int

const (
	// Projection shows the maximum intensity along each ray.
	Projection Mode = iota
	// Isosurface shows the first point along each ray above the threshold.
	Isosurface
)

func (m Mode) String() string {
	switch m {
	case Projection:
		return "projection"
	case Isosurface:
		return "isosurface"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == Isosurface {
		return Projection
	}
	return Isosurface
}

// Uniform returns the raw value the shader expects for u_renderstyle.
func (m Mode) Uniform() int32 {
	if m == Isosurface {
		return 1
	}
	return 0
}

// ModeFromUniform converts a raw u_renderstyle value back to a Mode.
func ModeFromUniform(v int32) Mode {
	if v != 0 {
		return Isosurface
	}
	return Projection
}

// ParseMode parses "projection"/"mip" or "isosurface"/"iso".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "projection", "mip":
		return Projection, nil
	case "isosurface", "iso":
		return Isosurface, nil
	}
	return Projection, fmt.Errorf("unknown render mode %q", s)
}

// Field identifies one user-editable parameter.
type Field int

const (
	FieldScale Field = iota
	FieldYaw
	FieldPitch
	FieldMode
	FieldThreshold
	FieldColormap
)

// Fields lists every editable field.
var Fields = []Field{FieldScale, FieldYaw, FieldPitch, FieldMode, FieldThreshold, FieldColormap}

// Range is the valid interval and step of a field.
type Range struct {
	Min, Max, Step float64
}

var ranges = map[Field]Range{
	FieldScale:     {1, 3, 0.1},
	FieldYaw:       {-180, 180, 1},
	FieldPitch:     {-180, 180, 1},
	FieldMode:      {0, 1, 1},
	FieldThreshold: {0, 1, 0.01},
	FieldColormap:  {1, 4, 1},
}

var labels = map[Field]string{
	FieldScale:     "Scale",
	FieldYaw:       "Rotate Left/Right",
	FieldPitch:     "Rotate Up/Down",
	FieldMode:      "MIP <> Isosurface",
	FieldThreshold: "Isosurf. Threshold",
	FieldColormap:  "Colormap",
}

// Range returns the interval and step of f.
func (f Field) Range() Range { return ranges[f] }

// Label is the display name of f.
func (f Field) Label() string { return labels[f] }

func (f Field) String() string {
	switch f {
	case FieldScale:
		return "scale"
	case FieldYaw:
		return "yaw"
	case FieldPitch:
		return "pitch"
	case FieldMode:
		return "mode"
	case FieldThreshold:
		return "threshold"
	case FieldColormap:
		return "colormap"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// Snap clamps v to the field range and rounds it to the nearest step.
func (r Range) Snap(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	v = math.Min(math.Max(v, r.Min), r.Max)
	if r.Step > 0 {
		n := math.Round((v - r.Min) / r.Step)
		v = r.Min + n*r.Step
		// trim float noise from the step multiplication
		v = math.Round(v*1e6) / 1e6
		v = math.Min(v, r.Max)
	}
	return v
}

// State is the RenderStyleState.
type State struct {
	Mode       Mode
	Threshold  float32
	ColormapID int
	ClampLow   float32
	ClampHigh  float32
	Scale      float64
	YawDeg     float64
	PitchDeg   float64
}

// Default returns the state used when nothing else is configured.
func Default() *State {
	return &State{
		Mode:       Isosurface,
		Threshold:  0.2,
		ColormapID: 1,
		ClampLow:   0,
		ClampHigh:  1,
		Scale:      1,
	}
}

// Validate checks the invariants of the state.
func (s *State) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [0,1]", s.Threshold)
	}
	if s.ColormapID < 1 || s.ColormapID > 4 {
		return fmt.Errorf("colormap id %d outside 1..4", s.ColormapID)
	}
	if !(s.ClampLow < s.ClampHigh) {
		return fmt.Errorf("clamp range [%v,%v] is empty", s.ClampLow, s.ClampHigh)
	}
	if !(s.Scale > 0) {
		return fmt.Errorf("scale %v must be positive", s.Scale)
	}
	if math.Abs(s.YawDeg) > 180 || math.Abs(s.PitchDeg) > 180 {
		return fmt.Errorf("rotation (%v, %v) outside [-180,180]", s.YawDeg, s.PitchDeg)
	}
	return nil
}

// Value returns the current value of f as a float.
func (s *State) Value(f Field) float64 {
	switch f {
	case FieldScale:
		return s.Scale
	case FieldYaw:
		return s.YawDeg
	case FieldPitch:
		return s.PitchDeg
	case FieldMode:
		return float64(s.Mode.Uniform())
	case FieldThreshold:
		return float64(s.Threshold)
	case FieldColormap:
		return float64(s.ColormapID)
	}
	return 0
}

// Set writes v to f after clamping and snapping it to the field's range. It
// reports whether the stored value changed.
func (s *State) Set(f Field, v float64) bool {
	v = f.Range().Snap(v)
	if f == FieldThreshold {
		if float32(v) == s.Threshold {
			return false
		}
	} else if v == s.Value(f) {
		return false
	}
	switch f {
	case FieldScale:
		s.Scale = v
	case FieldYaw:
		s.YawDeg = v
	case FieldPitch:
		s.PitchDeg = v
	case FieldMode:
		s.Mode = ModeFromUniform(int32(v))
	case FieldThreshold:
		s.Threshold = float32(v)
	case FieldColormap:
		s.ColormapID = int(v)
	default:
		return false
	}
	return true
}
