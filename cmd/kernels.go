package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"splinekt/internal/kernel"
)

func newKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernels",
		Short: "List the spline kernel types",
		Long: `List the spline kernel types accepted as SplineKernelType.

In 2-D every kernel type selects ThinPlateR2LogRSpline; from 3-D on
ThinPlateR2LogRSpline is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, f := range kernel.Families() {
				var note string
				switch {
				case f == kernel.ThinPlateR2LogRSpline:
					note = "2-D only"
				case f.Elastic():
					note = "uses SplinePoissonRatio"
				}
				if note == "" {
					fmt.Fprintln(w, f)
					continue
				}
				fmt.Fprintf(w, "%s\t(%s)\n", f, note)
			}
			return nil
		},
	}
}
