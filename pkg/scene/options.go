package scene

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/pkg/config"
	"volumexr/pkg/spatial"
	"volumexr/pkg/style"
)

// Options are the constants injected at composer construction.
type Options struct {
	// Initial render style.
	Mode      style.Mode
	Threshold float32
	Colormap  int
	ClampLow  float32
	ClampHigh float32
	Scale     float64

	// RotationSpeed is the idle yaw in radians per frame.
	RotationSpeed float64
	GlobalScale   float64

	ViewerPosition  r3.Vec
	ViewerDirection r3.Vec
	FOV             float64

	Placement  spatial.Placement
	Correction r3.Rotation

	PanelBase   r3.Vec
	PanelOffset float64
	PanelScale  float64
	PanelWidth  int

	// Workers bounds CPU snapshot rendering; zero means one per CPU.
	Workers int
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	opts, err := OptionsFromConfig(config.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return opts
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// OptionsFromConfig validates cfg and converts it.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	mode, err := style.ParseMode(cfg.Render.Mode)
	if err != nil {
		return Options{}, err
	}
	placement, err := spatial.ParsePlacementMode(cfg.Placement.Mode)
	if err != nil {
		return Options{}, err
	}
	c := cfg.Placement.Correction

	opts := Options{
		Mode:            mode,
		Threshold:       float32(cfg.Render.Threshold),
		Colormap:        cfg.Render.Colormap,
		ClampLow:        float32(cfg.Render.ClimLow),
		ClampHigh:       float32(cfg.Render.ClimHigh),
		Scale:           cfg.Motion.InitialScale,
		RotationSpeed:   cfg.Motion.RotationSpeed,
		GlobalScale:     cfg.Motion.GlobalScale,
		ViewerPosition:  vec(cfg.Viewer.Position),
		ViewerDirection: vec(cfg.Viewer.Direction),
		FOV:             cfg.Viewer.FOV,
		Placement: spatial.Placement{
			Mode:           placement,
			DistanceFactor: cfg.Placement.DistanceFactor,
			Offset:         vec(cfg.Placement.Offset),
		},
		Correction:  spatial.EulerXYZ(radians(c[0]), radians(c[1]), radians(c[2])),
		PanelBase:   vec(cfg.Panels.Base),
		PanelOffset: cfg.Panels.Offset,
		PanelScale:  cfg.Panels.Scale,
		PanelWidth:  cfg.Panels.Width,
		Workers:     cfg.Processing.NumCores,
	}
	if r3.Norm(opts.ViewerDirection) == 0 {
		return Options{}, fmt.Errorf("viewer direction must not be zero")
	}
	return opts, nil
}

func (o Options) initialState() *style.State {
	s := style.Default()
	s.Mode = o.Mode
	s.Threshold = o.Threshold
	s.ColormapID = o.Colormap
	s.ClampLow, s.ClampHigh = o.ClampLow, o.ClampHigh
	s.Scale = o.Scale
	return s
}
