// Package config provides configuration loading and management for volumexr.
// Configuration is read from YAML, or from TOML when the file name ends in
// .toml, and any value not present in the file keeps its default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"volumexr/pkg/spatial"
	"volumexr/pkg/style"
)

// Config represents the application configuration
type Config struct {
	// Render holds the initial render style of a freshly loaded volume
	Render struct {
		// Mode is "isosurface" or "projection"
		Mode string `yaml:"mode" toml:"mode"`

		// Threshold is the initial isosurface threshold in [0, 1]
		Threshold float64 `yaml:"threshold" toml:"threshold"`

		// Colormap is the initial colormap id (1 turbo, 2 inferno, 3 plasma, 4 viridis)
		Colormap int `yaml:"colormap" toml:"colormap"`

		// ClimLow and ClimHigh bound the sample range mapped through the colormap
		ClimLow  float64 `yaml:"climLow" toml:"climLow"`
		ClimHigh float64 `yaml:"climHigh" toml:"climHigh"`
	} `yaml:"render" toml:"render"`

	// Motion parameters
	Motion struct {
		// RotationSpeed is the idle yaw rotation in radians per frame
		RotationSpeed float64 `yaml:"rotationSpeed" toml:"rotationSpeed"`

		// GlobalScale multiplies every user scale
		GlobalScale float64 `yaml:"globalScale" toml:"globalScale"`

		// InitialScale is the user scale applied on load
		InitialScale float64 `yaml:"initialScale" toml:"initialScale"`
	} `yaml:"motion" toml:"motion"`

	// Viewer describes the head anchor the volume and panels are placed against
	Viewer struct {
		Position  [3]float64 `yaml:"position" toml:"position"`
		Direction [3]float64 `yaml:"direction" toml:"direction"`

		// FOV is the vertical field of view in degrees
		FOV float64 `yaml:"fov" toml:"fov"`
	} `yaml:"viewer" toml:"viewer"`

	// Placement of the volume relative to the viewer
	Placement struct {
		// Mode is "forward" or "fixed"
		Mode string `yaml:"mode" toml:"mode"`

		// DistanceFactor scales the largest volume dimension in forward mode
		DistanceFactor float64 `yaml:"distanceFactor" toml:"distanceFactor"`

		// Offset is the world position used in fixed mode
		Offset [3]float64 `yaml:"offset" toml:"offset"`

		// Correction is the constant Euler XYZ rotation of the volume axes, in degrees
		Correction [3]float64 `yaml:"correction" toml:"correction"`
	} `yaml:"placement" toml:"placement"`

	// Panels layout
	Panels struct {
		// Base is the world point between the two panels
		Base [3]float64 `yaml:"base" toml:"base"`

		// Offset is the lateral distance of each panel from Base
		Offset float64 `yaml:"offset" toml:"offset"`

		// Scale multiplies the panel size in meters
		Scale float64 `yaml:"scale" toml:"scale"`

		// Width of the panel raster in pixels
		Width int `yaml:"width" toml:"width"`
	} `yaml:"panels" toml:"panels"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for slice decoding and CPU rendering
		NumCores int `yaml:"numCores" toml:"numCores"`

		// Normalize rescales loaded samples to [0, 1]
		Normalize bool `yaml:"normalize" toml:"normalize"`
	} `yaml:"processing" toml:"processing"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" toml:"verbose"`

		// Width and Height of rendered snapshots in pixels
		Width  int `yaml:"width" toml:"width"`
		Height int `yaml:"height" toml:"height"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Render.Mode = "isosurface"
	cfg.Render.Threshold = 0.2
	cfg.Render.Colormap = 1
	cfg.Render.ClimLow = 0
	cfg.Render.ClimHigh = 1

	cfg.Motion.RotationSpeed = 0.01
	cfg.Motion.GlobalScale = 0.5
	cfg.Motion.InitialScale = 1

	cfg.Viewer.Position = [3]float64{0, 1.7, 0}
	cfg.Viewer.Direction = [3]float64{0, 0, -1}
	cfg.Viewer.FOV = 80

	cfg.Placement.Mode = "forward"
	cfg.Placement.DistanceFactor = 0.5
	cfg.Placement.Offset = [3]float64{0, 1.7, -2}
	cfg.Placement.Correction = [3]float64{90, 0, 0}

	cfg.Panels.Base = [3]float64{0, -0.5, -3.5}
	cfg.Panels.Offset = 0.75
	cfg.Panels.Scale = 6
	cfg.Panels.Width = 250

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Normalize = true

	cfg.Output.Verbose = false
	cfg.Output.Width = 640
	cfg.Output.Height = 480

	return cfg
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	if _, err := style.ParseMode(c.Render.Mode); err != nil {
		return fmt.Errorf("render.mode: %w", err)
	}
	if c.Render.Threshold < 0 || c.Render.Threshold > 1 {
		return fmt.Errorf("render.threshold %g is outside [0, 1]", c.Render.Threshold)
	}
	if r := style.FieldColormap.Range(); float64(c.Render.Colormap) < r.Min || float64(c.Render.Colormap) > r.Max {
		return fmt.Errorf("render.colormap %d is outside [%g, %g]", c.Render.Colormap, r.Min, r.Max)
	}
	if !(c.Render.ClimLow < c.Render.ClimHigh) {
		return fmt.Errorf("render.climLow %g must be below climHigh %g", c.Render.ClimLow, c.Render.ClimHigh)
	}
	if c.Motion.GlobalScale <= 0 {
		return fmt.Errorf("motion.globalScale must be positive, got %g", c.Motion.GlobalScale)
	}
	if r := style.FieldScale.Range(); c.Motion.InitialScale < r.Min || c.Motion.InitialScale > r.Max {
		return fmt.Errorf("motion.initialScale %g is outside [%g, %g]", c.Motion.InitialScale, r.Min, r.Max)
	}
	if c.Viewer.FOV <= 0 || c.Viewer.FOV >= 180 {
		return fmt.Errorf("viewer.fov %g is outside (0, 180)", c.Viewer.FOV)
	}
	if _, err := spatial.ParsePlacementMode(c.Placement.Mode); err != nil {
		return fmt.Errorf("placement.mode: %w", err)
	}
	if c.Placement.DistanceFactor <= 0 {
		return fmt.Errorf("placement.distanceFactor must be positive, got %g", c.Placement.DistanceFactor)
	}
	if c.Panels.Width <= 0 || c.Panels.Scale <= 0 {
		return fmt.Errorf("panels need a positive width and scale, got %d and %g", c.Panels.Width, c.Panels.Scale)
	}
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("processing.numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("output size %dx%d must be positive", c.Output.Width, c.Output.Height)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
