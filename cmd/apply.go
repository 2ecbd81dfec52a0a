package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"

	"splinekt/internal/apperr"
	"splinekt/internal/config"
	"splinekt/internal/landmark"
	"splinekt/internal/parfile"
	"splinekt/internal/registration"
	"splinekt/internal/transform"
	"splinekt/pkg/geometry"
)

// Files written by apply to the output directory.
const (
	OutputPointsFileName = "outputpoints.txt"
	DeformationFileName  = "deformationField.txt"
	JacobianFileName     = "spatialJacobian.txt"
	FullJacobianFileName = "fullSpatialJacobian.txt"
)

// AllNodes as --def evaluates the transform at every node of the fixed grid.
const AllNodes = "all"

// Row headers of the Jacobian files.
const (
	headerDeterminant = "determinant"
	headerJacobian    = "jacobian"
)

var applyKeys = map[string]string{
	"out":              "out",
	"dim":              "dim",
	"fixed_grid.image": "fixed-image",
}

// applyRequest is what apply was asked to write.
type applyRequest struct {
	tpFile      string
	defFile     string
	deformation bool
	jac         bool
	jacmat      bool
}

func newApplyCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	d := config.Defaults()
	var req applyRequest
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Map points through a stored transform",
		Long: `Map the points of a landmark file through a transform written by fit and
write them to ` + OutputPointsFileName + ` in the output directory.

With --def ` + AllNodes + ` the transform is evaluated at every node of the fixed
grid, which then needs a size from --fixed-image or fixed_grid.size, and the
displacements are written to ` + DeformationFileName + `. For a point file,
--deformation writes the displacements as well.

--jac writes the determinant of the spatial Jacobian at each point to
` + JacobianFileName + ` and --jacmat writes the full matrix, row by row, to
` + FullJacobianFileName + `. Without --def they evaluate the whole grid.

Index points are converted with the fixed image grid. The dimension is taken
from the transform file when it records one.

Examples:
  splinekt apply --tp run1/TransformParameters.0.txt --def points.txt --out run1
  splinekt apply --tp tp.txt --def pixels.txt --fixed-image fixed.tif

  # Displacement and volume change over the fixed image
  splinekt apply --tp tp.txt --def all --jac --fixed-image fixed.tif`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(v, cmd.Flags(), applyKeys)
			rt, err := setup(cmd, v, *cfgFile)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close(cmd.Context()) }()

			paths, err := runApply(cmd.Context(), rt, req)
			if err != nil {
				rt.logger.Error("apply failed", "error", err)
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.tpFile, "tp", "", "transform parameter file")
	f.StringVar(&req.defFile, "def", "", "landmark file with the points to map, or "+AllNodes+" for the fixed grid")
	f.BoolVar(&req.deformation, "deformation", false, "write the displacement at each point")
	f.BoolVar(&req.jac, "jac", false, "write the determinant of the spatial Jacobian at each point")
	f.BoolVar(&req.jacmat, "jacmat", false, "write the spatial Jacobian matrix at each point")
	f.StringP("out", "o", d.Out, "output directory")
	f.IntP("dim", "d", d.Dim, "dimension, when the transform file records none")
	f.String("fixed-image", "", "fixed image supplying the grid of index points")
	_ = cmd.MarkFlagRequired("tp")
	return cmd
}

// runApply writes the outputs asked for by req and returns their paths.
func runApply(ctx context.Context, rt *runtime, req applyRequest) ([]string, error) {
	cfg := rt.cfg
	if req.defFile == "" {
		if !req.jac && !req.jacmat {
			return nil, apperr.New("cmd.apply", apperr.KindConfiguration, "",
				"nothing to do: give --def, --jac or --jacmat")
		}
		req.defFile = AllNodes
	}
	if err := requireDir(cfg.Out); err != nil {
		return nil, err
	}
	dim, err := transformDimension(req.tpFile, cfg.Dim)
	if err != nil {
		return nil, err
	}

	c := registration.New(dim, rt.logger, rt.tracing.Tracer())
	if err := c.ReadFromFile(ctx, req.tpFile); err != nil {
		return nil, err
	}

	in, err := applyPoints(cfg, dim, req.defFile, rt)
	if err != nil {
		return nil, err
	}

	var paths []string
	emit := func(name, header string, rows [][]float64) error {
		path := filepath.Join(cfg.Out, name)
		if err := landmark.WriteRowsFile(path, header, rows); err != nil {
			return &apperr.Error{Op: "cmd.apply", Kind: apperr.KindConfiguration, Value: path, Err: err}
		}
		rt.logger.Info("output written", "path", path, "count", len(rows))
		paths = append(paths, path)
		return nil
	}

	if req.defFile != AllNodes {
		out, err := c.TransformPoints(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := emit(OutputPointsFileName, landmark.KindPoint, pointRows(out.Points)); err != nil {
			return nil, err
		}
	}
	if req.deformation || req.defFile == AllNodes {
		field, err := c.DeformationField(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := emit(DeformationFileName, landmark.KindPoint, pointRows(field.Points)); err != nil {
			return nil, err
		}
	}
	if !req.jac && !req.jacmat {
		return paths, nil
	}

	jacobians, err := c.SpatialJacobians(ctx, in)
	if err != nil {
		return nil, err
	}
	if req.jac {
		rows := make([][]float64, len(jacobians))
		for i, j := range jacobians {
			rows[i] = []float64{mat.Det(j)}
		}
		if err := emit(JacobianFileName, headerDeterminant, rows); err != nil {
			return nil, err
		}
	}
	if req.jacmat {
		rows := make([][]float64, len(jacobians))
		for i, j := range jacobians {
			rows[i] = mat.DenseCopyOf(j).RawMatrix().Data
		}
		if err := emit(FullJacobianFileName, headerJacobian, rows); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// applyPoints loads the points of defFile, or the nodes of the fixed grid for
// AllNodes.
func applyPoints(cfg config.Config, dim int, defFile string, rt *runtime) (landmark.Set, error) {
	if defFile != AllNodes {
		geom, err := gridFor(cfg.FixedGrid, dim)
		if err != nil {
			return landmark.Set{}, fmt.Errorf("fixed grid: %w", err)
		}
		return landmark.LoadFile(defFile, landmark.Fixed, landmark.Options{
			Dim: dim, Geometry: geom, Logger: rt.logger,
		})
	}

	grid, err := configuredGrid(cfg.FixedGrid, dim)
	if err != nil {
		return landmark.Set{}, fmt.Errorf("fixed grid: %w", err)
	}
	if grid == nil || grid.Size == nil {
		return landmark.Set{}, apperr.New("cmd.apply", apperr.KindMissingGeometry, AllNodes,
			"needs the fixed grid size, give --fixed-image or fixed_grid.size")
	}
	nodes, err := grid.Nodes()
	if err != nil {
		return landmark.Set{}, &apperr.Error{Op: "cmd.apply", Kind: apperr.KindConfiguration, Value: AllNodes, Err: err}
	}
	rt.logger.Info("evaluating the fixed grid", "size", grid.Size, "nodes", len(nodes))
	return landmark.Set{Dim: dim, Points: nodes}, nil
}

func pointRows(points []geometry.Point) [][]float64 {
	rows := make([][]float64, len(points))
	for i, p := range points {
		rows[i] = p
	}
	return rows
}

// transformDimension returns the dimension recorded in the transform file
// at path, or fallback when it records none.
func transformDimension(path string, fallback int) (int, error) {
	rec, err := parfile.ReadFile(path)
	if err != nil {
		return 0, err
	}
	dim, ok, err := rec.Int(transform.KeyFixedImageDimension)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return dim, nil
}
