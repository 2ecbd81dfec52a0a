package imagegeom

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"splinekt/internal/apperr"
	"splinekt/pkg/geometry"
)

func writeImage(t *testing.T, name string, encode func(f *os.File, img image.Image) error) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, encode(f, image.NewGray(image.Rect(0, 0, 4, 3))))
	require.NoError(t, f.Close())
	return path
}

func TestReadHeader_PNG(t *testing.T) {
	path := writeImage(t, "fixed.png", func(f *os.File, img image.Image) error { return png.Encode(f, img) })
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, "png", h.Format)
	require.Equal(t, 4, h.Width)
	require.Equal(t, 3, h.Height)
	require.Zero(t, h.DPI)

	g := h.Grid()
	require.Equal(t, []float64{1, 1}, g.Spacing)
	require.Equal(t, []int{4, 3}, g.Size)
}

func TestReadHeader_TIFFResolution(t *testing.T) {
	path := writeImage(t, "fixed.tif", func(f *os.File, img image.Image) error { return tiff.Encode(f, img, nil) })
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, "tiff", h.Format)
	// The encoder always writes 72x72 dpi.
	require.Equal(t, 72.0, h.DPI)
	require.InDeltaSlice(t, []float64{25.4 / 72, 25.4 / 72}, h.Grid().Spacing, 1e-12)
}

func TestReadHeader_BMP(t *testing.T) {
	path := writeImage(t, "moving.bmp", func(f *os.File, img image.Image) error { return bmp.Encode(f, img) })
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, "bmp", h.Format)
	require.Equal(t, 4, h.Width)
}

func TestReadHeader_Errors(t *testing.T) {
	_, err := ReadHeader(filepath.Join(t.TempDir(), "absent.png"))
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))

	path := filepath.Join(t.TempDir(), "noise.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))
	_, err = ReadHeader(path)
	require.True(t, apperr.IsKind(err, apperr.KindFileFormat))
}

func TestGridFromFile(t *testing.T) {
	path := writeImage(t, "fixed.tiff", func(f *os.File, img image.Image) error { return tiff.Encode(f, img, nil) })

	g, err := GridFromFile(path, geometry.NewGrid(geometry.Point{10, -5}, []float64{1, 1}))
	require.NoError(t, err)
	require.Equal(t, geometry.Point{10, -5}, g.Origin)
	require.InDelta(t, 25.4/72, g.Spacing[0], 1e-12)

	g, err = GridFromFile(path, geometry.NewGrid(geometry.Point{0, 0}, []float64{0.5, 2}))
	require.NoError(t, err)
	require.Equal(t, geometry.Point{1, 6}, g.IndexToPhysical([]int{2, 3}))

	_, err = GridFromFile(path, geometry.UnitGrid(3))
	require.True(t, apperr.IsKind(err, apperr.KindDimensionMismatch))
}

func TestIsSupportedFormat(t *testing.T) {
	require.True(t, IsSupportedFormat("scan.TIF"))
	require.True(t, IsSupportedFormat("a/b/c.bmp"))
	require.False(t, IsSupportedFormat("points.txt"))
}
