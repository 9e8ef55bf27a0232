package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"volumexr/internal/models"
	"volumexr/pkg/colormap"
	"volumexr/pkg/config"
	"volumexr/pkg/engine"
	"volumexr/pkg/loader"
	"volumexr/pkg/raymarch"
	"volumexr/pkg/scene"
	"volumexr/pkg/style"
	"volumexr/pkg/visualization"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("volumexr failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "volumexr",
		Short:         "Immersive ray-marched volume viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "volumexr.yaml", "configuration file (.yaml or .toml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(renderCmd(), runCmd(), slicesCmd(), shaderCmd(), configCmd())
	return root
}

// loadConfig reads the configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose || cfg.Output.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return cfg, nil
}

type styleFlags struct {
	mode       string
	threshold  float64
	colormap   int
	scale      float64
	yaw, pitch float64
}

func (f *styleFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.mode, "mode", "", "render mode: isosurface or projection")
	fs.Float64Var(&f.threshold, "threshold", -1, "isosurface threshold in [0, 1]")
	fs.IntVar(&f.colormap, "colormap", 0, "colormap id: 1 turbo, 2 inferno, 3 plasma, 4 viridis")
	fs.Float64Var(&f.scale, "scale", 0, "user scale in [1, 3]")
	fs.Float64Var(&f.yaw, "yaw", 0, "yaw in degrees")
	fs.Float64Var(&f.pitch, "pitch", 0, "pitch in degrees")
}

// apply overrides the configured render section with the flags that were set.
func (f *styleFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("mode") {
		cfg.Render.Mode = f.mode
	}
	if fs.Changed("threshold") {
		cfg.Render.Threshold = f.threshold
	}
	if fs.Changed("colormap") {
		cfg.Render.Colormap = f.colormap
	}
	if fs.Changed("scale") {
		cfg.Motion.InitialScale = f.scale
	}
}

// rotate turns the volume through the transform panel, like a user would.
func (f *styleFlags) rotate(c *scene.Composer) {
	transform, _ := c.Panels()
	transform.SetValue(style.FieldYaw, f.yaw)
	transform.SetValue(style.FieldPitch, f.pitch)
}

func openSource(cfg *config.Config, path string) (loader.Source, error) {
	return loader.Open(path, loader.Options{
		Normalize: cfg.Processing.Normalize,
		Workers:   cfg.Processing.NumCores,
	})
}

// compose builds a headless scene and loads path into it, stepping frames
// until the load completes.
func compose(ctx context.Context, cfg *config.Config, path string) (*scene.Composer, *engine.Headless, error) {
	src, err := openSource(cfg, path)
	if err != nil {
		return nil, nil, err
	}
	opts, err := scene.OptionsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewHeadless()
	c, err := scene.New(opts, eng)
	if err != nil {
		return nil, nil, err
	}

	result := make(chan error, 1)
	c.Load(src, func(_ *models.VoxelField, err error) { result <- err })
	for {
		select {
		case err := <-result:
			return c, eng, err
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			eng.Step(5 * time.Millisecond)
		}
	}
}

func renderCmd() *cobra.Command {
	var (
		sf  styleFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "render <volume>",
		Short: "Render one view of a volume to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sf.apply(cmd, cfg)
			cfg.Motion.RotationSpeed = 0

			ctx := cmd.Context()
			c, _, err := compose(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			sf.rotate(c)

			start := time.Now()
			img, err := c.Snapshot(ctx, cfg.Output.Width, cfg.Output.Height)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", args[0], err)
			}
			if err := visualization.SaveSlice(img, out); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"out":     out,
				"elapsed": time.Since(start).Round(time.Millisecond),
			}).Info("snapshot written")
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "volume.png", "output image")
	return cmd
}

func runCmd() *cobra.Command {
	var (
		sf     styleFlags
		fps    int
		frames int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "run <volume>",
		Short: "Run the scene headless for a number of frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sf.apply(cmd, cfg)
			if fps <= 0 {
				return fmt.Errorf("fps must be positive, got %d", fps)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			c, eng, err := compose(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			sf.rotate(c)

			if err := eng.Run(ctx, time.Second/time.Duration(fps), frames); err != nil && ctx.Err() == nil {
				return err
			}
			yaw, pitch := c.Frames().Angles()
			logrus.WithFields(logrus.Fields{
				"frame": c.Frame(),
				"yaw":   yaw,
				"pitch": pitch,
			}).Info("run finished")

			if out == "" {
				return nil
			}
			img, err := eng.Render(context.Background(), c.Camera(), cfg.Output.Width, cfg.Output.Height,
				scene.Background, raymarch.RenderOptions{Workers: cfg.Processing.NumCores})
			if err != nil {
				return err
			}
			return visualization.SaveSlice(img, out)
		},
	}
	sf.register(cmd)
	cmd.Flags().IntVar(&fps, "fps", 72, "frames per second")
	cmd.Flags().IntVar(&frames, "frames", 360, "frames to run, 0 runs until interrupted")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the last frame to this image")
	return cmd
}

func slicesCmd() *cobra.Command {
	var (
		axis   string
		out    string
		format string
		cmapID int
		mip    bool
	)
	cmd := &cobra.Command{
		Use:   "slices <volume>",
		Short: "Export orthogonal slices or projections of a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			src, err := openSource(cfg, args[0])
			if err != nil {
				return err
			}
			field, err := loader.Load(cmd.Context(), src)
			if err != nil {
				return err
			}

			viewer := visualization.NewViewer(field)
			viewer.ClampLow, viewer.ClampHigh = float32(cfg.Render.ClimLow), float32(cfg.Render.ClimHigh)
			if cmapID != 0 {
				set, err := colormap.NewSet()
				if err != nil {
					return err
				}
				pal, ok := set.Get(cmapID)
				if !ok {
					return fmt.Errorf("unknown colormap %d", cmapID)
				}
				viewer.Palette = pal
			}

			axes := []visualization.Axis{visualization.AxisX, visualization.AxisY, visualization.AxisZ}
			if axis != "all" {
				a, err := visualization.ParseAxis(axis)
				if err != nil {
					return err
				}
				axes = []visualization.Axis{a}
			}

			if err := os.MkdirAll(out, 0755); err != nil {
				return err
			}
			for _, a := range axes {
				if mip {
					name := filepath.Join(out, fmt.Sprintf("mip_%s.%s", a, format))
					if err := visualization.SaveSlice(viewer.Projection(a), name); err != nil {
						return err
					}
					logrus.WithField("file", name).Info("projection written")
					continue
				}
				files, err := viewer.SaveSliceSequence(a, filepath.Join(out, a.String()), format)
				if err != nil {
					logrus.WithField("axis", a).WithError(err).Warn("failed to save slices")
					continue
				}
				logrus.WithFields(logrus.Fields{"axis": a, "count": len(files)}).Info("slices written")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&axis, "axis", "all", "x, y, z or all")
	cmd.Flags().StringVarP(&out, "out", "o", "slices", "output directory")
	cmd.Flags().StringVar(&format, "format", "png", "png or jpg")
	cmd.Flags().IntVar(&cmapID, "colormap", 0, "color slices with this colormap id, 0 for gray")
	cmd.Flags().BoolVar(&mip, "mip", false, "write one maximum-intensity projection per axis")
	return cmd
}

func shaderCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "shader",
		Short: "Print the volume shader source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch stage {
			case "vertex", "vert":
				fmt.Fprint(w, raymarch.VertexShader)
			case "fragment", "frag":
				fmt.Fprint(w, raymarch.FragmentShader)
			default:
				return fmt.Errorf("unknown shader stage %q", stage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "fragment", "vertex or fragment")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			logrus.WithField("path", path).Info("default configuration written")
			return nil
		},
	})
	return cmd
}
