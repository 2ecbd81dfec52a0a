package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"splinekt/internal/apperr"
	"splinekt/internal/config"
	"splinekt/internal/imagegeom"
	"splinekt/internal/landmark"
	"splinekt/internal/parfile"
	"splinekt/internal/registration"
	"splinekt/internal/report"
	"splinekt/internal/transform"
	"splinekt/pkg/geometry"
)

// TransformFileName is the name of the transform written by fit.
const TransformFileName = "TransformParameters.0.txt"

// fitKeys maps config keys to the fit flags overriding them.
var fitKeys = map[string]string{
	"fp":                      "fp",
	"mp":                      "mp",
	"ipp":                     "ipp",
	"parameters":              "parameters",
	"out":                     "out",
	"dim":                     "dim",
	"spline.kernel_type":      "kernel",
	"spline.relaxation":       "relaxation",
	"spline.poisson_ratio":    "poisson",
	"spline.inversion_method": "method",
	"initial":                 "initial",
	"ransac_threshold":        "ransac-threshold",
	"fixed_grid.image":        "fixed-image",
	"moving_grid.image":       "moving-image",
}

func newFitCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	d := config.Defaults()
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a spline kernel transform to landmark files",
		Long: `Fit a spline kernel transform that maps the fixed image landmarks onto the
moving image landmarks and write it to ` + TransformFileName + ` in the output
directory.

Settings from --parameters take precedence over the spline flags.

Examples:
  # Thin-plate spline in 3-D
  splinekt fit --fp fixed.txt --mp moving.txt --out run1

  # Elastic body spline with a relaxed fit
  splinekt fit --fp fixed.txt --mp moving.txt --kernel ElasticBodySpline --relaxation 0.05

  # Landmarks given as pixel indices of 2-D scans
  splinekt fit -d 2 --fp fixed.txt --mp moving.txt --fixed-image fixed.tif --moving-image moving.tif

  # Compose the spline with a robust affine pre-alignment
  splinekt fit --fp fixed.txt --mp moving.txt --initial ransac --ransac-threshold 0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(v, cmd.Flags(), fitKeys)
			rt, err := setup(cmd, v, *cfgFile)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(cmd.Context()) }()

			path, err := runFit(cmd.Context(), rt)
			if err != nil {
				rt.logger.Error("fit failed", "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("fp", "", "fixed image landmark file")
	f.String("mp", "", "moving image landmark file; without it the transform is the identity")
	f.String("ipp", "", "fixed image landmark file")
	_ = f.MarkDeprecated("ipp", "use --fp instead")
	f.StringP("parameters", "p", "", "parameter file with transform settings")
	f.StringP("out", "o", d.Out, "output directory")
	f.IntP("dim", "d", d.Dim, "image dimension")
	f.String("kernel", d.Spline.KernelType, "spline kernel type")
	f.Float64("relaxation", d.Spline.Relaxation, "relaxation factor in [0, 1]")
	f.Float64("poisson", d.Spline.PoissonRatio, "Poisson ratio of the elastic body kernels")
	f.String("method", d.Spline.InversionMethod, "matrix inversion method: SVD or QR")
	f.String("initial", d.Initial, "initial transform: none, affine or ransac")
	f.Float64("ransac-threshold", d.RANSACThreshold, "inlier distance of the ransac initial transform")
	f.String("fixed-image", "", "fixed image supplying the grid of index landmarks")
	f.String("moving-image", "", "moving image supplying the grid of index landmarks")
	return cmd
}

// runFit fits the transform described by rt.cfg and returns the path it was
// written to.
func runFit(ctx context.Context, rt *runtime) (string, error) {
	cfg := rt.cfg
	args := registration.Arguments{Fixed: cfg.Fixed, Moving: cfg.Moving}
	if err := registration.CheckArguments(args, rt.logger); err != nil {
		return "", err
	}
	if err := requireDir(cfg.Out); err != nil {
		return "", err
	}

	params, err := fitParameters(cfg)
	if err != nil {
		return "", err
	}
	env, err := environment(cfg)
	if err != nil {
		return "", err
	}

	c := registration.New(cfg.Dim, rt.logger, rt.tracing.Tracer())
	if cfg.Initial != registration.InitialNone {
		a, err := initialAffine(cfg, args, env, rt)
		if err != nil {
			return "", err
		}
		c.SetInitialTransform(a)
		env.InitialTransform = a
		env.UseComposition = true
	}

	if err := c.BeforeRegistration(ctx, params, args, env); err != nil {
		return "", err
	}
	path := filepath.Join(cfg.Out, TransformFileName)
	if err := c.WriteToFile(ctx, path); err != nil {
		return "", err
	}
	if err := writeReport(cfg, c, path); err != nil {
		return "", err
	}
	return path, nil
}

// writeReport records the fit next to the transform at transformPath.
func writeReport(cfg config.Config, c *registration.SplineKernelTransform, transformPath string) error {
	path := filepath.Join(cfg.Out, report.FileName)
	e := c.Engine()

	r := report.New(cfg.Dim)
	r.KernelType = e.KernelType()
	r.Kernel = e.Family().String()
	r.InversionMethod = e.InversionMethod().String()
	r.Relaxation = e.Stiffness()
	r.PoissonRatio = e.PoissonRatio()
	r.Initial = cfg.Initial
	r.Landmarks = e.NumberOfLandmarks()
	r.SetFixedLandmarks(path, cfg.Fixed)
	r.SetMovingLandmarks(path, cfg.Moving)
	r.SetTransform(path, transformPath)
	if lo, hi := geometry.BoundingBox(c.FixedLandmarks().Points); lo != nil {
		r.Extent = &report.Extent{Min: lo, Max: hi}
	}
	if c.MovingLandmarks().Len() > 0 {
		if mean, worst, err := e.Residuals(c.FixedLandmarks(), c.MovingLandmarks()); err == nil {
			r.Residual = &report.Residual{Mean: mean, Max: worst}
		}
	}

	if err := r.Save(path); err != nil {
		return &apperr.Error{Op: "cmd.writeReport", Kind: apperr.KindConfiguration, Value: path, Err: err}
	}
	return nil
}

// fitParameters builds the parameter record from the spline settings, with
// the entries of the parameter file, if any, on top.
func fitParameters(cfg config.Config) (*parfile.Record, error) {
	rec := parfile.New()
	rec.SetString(transform.KeySplineKernelType, cfg.Spline.KernelType)
	rec.SetFloat(transform.KeyRelaxationFactor, cfg.Spline.Relaxation)
	rec.SetFloat(transform.KeyPoissonRatio, cfg.Spline.PoissonRatio)
	rec.SetString(transform.KeyInversionMethod, cfg.Spline.InversionMethod)
	if cfg.Parameters == "" {
		return rec, nil
	}
	file, err := parfile.ReadFile(cfg.Parameters)
	if err != nil {
		return nil, err
	}
	rec.Append(file)
	return rec, nil
}

func environment(cfg config.Config) (registration.Environment, error) {
	fixed, err := gridFor(cfg.FixedGrid, cfg.Dim)
	if err != nil {
		return registration.Environment{}, fmt.Errorf("fixed grid: %w", err)
	}
	moving, err := gridFor(cfg.MovingGrid, cfg.Dim)
	if err != nil {
		return registration.Environment{}, fmt.Errorf("moving grid: %w", err)
	}
	return registration.Environment{FixedGeometry: fixed, MovingGeometry: moving}, nil
}

// gridFor returns the grid geometry configured by gc, or nil when nothing
// was configured.
func gridFor(gc config.GridConfig, dim int) (geometry.IndexMapper, error) {
	grid, err := configuredGrid(gc, dim)
	if err != nil || grid == nil {
		return nil, err
	}
	return grid, nil
}

func configuredGrid(gc config.GridConfig, dim int) (*geometry.Grid, error) {
	if !gc.IsSet() {
		return nil, nil
	}
	if gc.Image != "" && !imagegeom.IsSupportedFormat(gc.Image) {
		return nil, apperr.New("cmd.grid", apperr.KindConfiguration, gc.Image,
			"unsupported image format, expected one of %s", strings.Join(imagegeom.SupportedFormats(), " "))
	}
	grid, err := gc.Grid(dim)
	if err != nil {
		return nil, err
	}
	if gc.Image != "" {
		grid, err = imagegeom.GridFromFile(gc.Image, grid)
		if err != nil {
			return nil, err
		}
	}
	return grid, nil
}

// initialAffine estimates the affine transform from the landmarks as given,
// before any composition.
func initialAffine(cfg config.Config, args registration.Arguments, env registration.Environment, rt *runtime) (geometry.Affine, error) {
	if args.Moving == "" {
		return geometry.Affine{}, apperr.WithComponent(apperr.New("cmd.initialAffine", apperr.KindConfiguration,
			cfg.Initial, "estimating an initial transform needs moving landmarks"), registration.Label)
	}
	fixed, err := landmark.LoadFile(args.Fixed, landmark.Fixed, landmark.Options{
		Dim: cfg.Dim, Geometry: env.FixedGeometry, Logger: rt.logger,
	})
	if err != nil {
		return geometry.Affine{}, err
	}
	moving, err := landmark.LoadFile(args.Moving, landmark.Moving, landmark.Options{
		Dim: cfg.Dim, Geometry: env.MovingGeometry, Logger: rt.logger,
	})
	if err != nil {
		return geometry.Affine{}, err
	}

	a, err := registration.EstimateInitialAffine(fixed, moving, cfg.Initial, cfg.RANSACThreshold)
	if err != nil {
		return geometry.Affine{}, err
	}
	rt.logger.Info("initial transform estimated", "method", cfg.Initial,
		"translation", geometry.Point(a.T).String())
	return a, nil
}
