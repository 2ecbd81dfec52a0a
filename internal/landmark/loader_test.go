package landmark

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"splinekt/internal/apperr"
	"splinekt/pkg/geometry"
)

func TestLoad_PhysicalPoints(t *testing.T) {
	in := "point\n3\n1.5 2\n-3 4e-1\n0 0\n"
	set, err := Load(strings.NewReader(in), Moving, Options{Dim: 2})
	require.NoError(t, err)
	require.Equal(t, 2, set.Dim)
	require.Equal(t, []geometry.Point{{1.5, 2}, {-3, 0.4}, {0, 0}}, set.Points)
}

func TestLoad_IndicesUseGeometry(t *testing.T) {
	grid := geometry.NewGrid(geometry.NewPoint(10, -5), []float64{0.5, 2})
	in := "index\n2\n0 0\n3 4\n"
	set, err := Load(strings.NewReader(in), Fixed, Options{Dim: 2, Geometry: grid})
	require.NoError(t, err)
	require.Equal(t, []geometry.Point{{10, -5}, {11.5, 3}}, set.Points)
}

func TestLoad_IndexRoundingHalfAwayFromZero(t *testing.T) {
	grid := geometry.UnitGrid(2)
	in := "index\n3\n0.5 -0.5\n1.49 2.5\n-1.5 0.4999\n"
	set, err := Load(strings.NewReader(in), Fixed, Options{Dim: 2, Geometry: grid})
	require.NoError(t, err)
	require.Equal(t, []geometry.Point{{1, -1}, {1, 3}, {-2, 0}}, set.Points)
}

func TestLoad_IndexOutOfRange(t *testing.T) {
	grid := geometry.UnitGrid(2)
	for _, in := range []string{
		"index\n1\n1e20 2\n",
		"index\n1\n2 -1e19\n",
		"index\n1\n9223372036854775808 0\n",
	} {
		_, err := Load(strings.NewReader(in), Fixed, Options{Dim: 2, Geometry: grid})
		require.True(t, apperr.IsKind(err, apperr.KindFileFormat), "input %q: %v", in, err)
	}

	_, err := Load(strings.NewReader("index\n1\n1e20 2\n"), Fixed, Options{Dim: 2, Geometry: grid})
	require.ErrorContains(t, err, "1e+20")

	// Physical points are not indices and keep their value.
	set, err := Load(strings.NewReader("point\n1\n1e20 2\n"), Fixed, Options{Dim: 2})
	require.NoError(t, err)
	require.Equal(t, geometry.Point{1e20, 2}, set.Points[0])
}

func TestLoad_IndexToPhysicalProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(2, 4).Draw(rt, "dim")
		origin := rapid.SliceOfN(rapid.Float64Range(-100, 100), dim, dim).Draw(rt, "origin")
		spacing := rapid.SliceOfN(rapid.Float64Range(0.01, 10), dim, dim).Draw(rt, "spacing")
		index := rapid.SliceOfN(rapid.IntRange(-500, 500), dim, dim).Draw(rt, "index")

		var sb strings.Builder
		sb.WriteString("index\n1\n")
		for d, v := range index {
			if d > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(strconv.Itoa(v))
		}
		sb.WriteString("\n")

		grid := geometry.NewGrid(geometry.NewPoint(origin...), spacing)
		set, err := Load(strings.NewReader(sb.String()), Moving, Options{Dim: dim, Geometry: grid})
		require.NoError(rt, err)
		for d := 0; d < dim; d++ {
			require.InDelta(rt, origin[d]+float64(index[d])*spacing[d], set.Points[0][d], 1e-9)
		}
	})
}

func TestLoad_MissingGeometry(t *testing.T) {
	_, err := Load(strings.NewReader("index\n1\n1 2\n"), Fixed, Options{Dim: 2})
	require.True(t, apperr.IsKind(err, apperr.KindMissingGeometry), "got %v", err)
}

func TestLoad_GeometryDimensionMismatch(t *testing.T) {
	_, err := Load(strings.NewReader("index\n1\n1 2\n"), Fixed,
		Options{Dim: 2, Geometry: geometry.UnitGrid(3)})
	require.True(t, apperr.IsKind(err, apperr.KindDimensionMismatch), "got %v", err)
}

func TestLoad_InitialTransformFixedOnly(t *testing.T) {
	shift := geometry.Translation(1, 2)
	in := "point\n1\n0 0\n"
	opts := Options{Dim: 2, InitialTransform: shift, UseComposition: true}

	fixed, err := Load(strings.NewReader(in), Fixed, opts)
	require.NoError(t, err)
	require.Equal(t, geometry.Point{1, 2}, fixed.Points[0])

	moving, err := Load(strings.NewReader(in), Moving, opts)
	require.NoError(t, err)
	require.Equal(t, geometry.Point{0, 0}, moving.Points[0])

	opts.UseComposition = false
	plain, err := Load(strings.NewReader(in), Fixed, opts)
	require.NoError(t, err)
	require.Equal(t, geometry.Point{0, 0}, plain.Points[0])
}

func TestLoad_InitialTransformAfterIndexConversion(t *testing.T) {
	grid := geometry.NewGrid(geometry.NewPoint(0, 0), []float64{2, 2})
	opts := Options{Dim: 2, Geometry: grid, InitialTransform: geometry.Translation(1, 1), UseComposition: true}
	set, err := Load(strings.NewReader("index\n1\n1 1\n"), Fixed, opts)
	require.NoError(t, err)
	require.Equal(t, geometry.Point{3, 3}, set.Points[0])
}

func TestLoad_FormatErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"bad header", "Point\n1\n0 0\n"},
		{"missing count", "point\n"},
		{"count not a number", "point\nthree\n0 0\n"},
		{"zero count", "point\n0\n"},
		{"negative count", "point\n-2\n0 0\n"},
		{"too few points", "point\n2\n0 0\n"},
		{"too many coordinates", "point\n1\n0 0 0\n"},
		{"too few coordinates", "point\n1\n0\n"},
		{"not a number", "point\n1\n0 abc\n"},
		{"nan", "point\n1\n0 NaN\n"},
		{"extra points", "point\n1\n0 0\n1 1\n"},
		{"count beyond the points given", "point\n999999999999999\n1 2\n"},
		{"count overflows int", "point\n99999999999999999999999\n1 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.in), Fixed, Options{Dim: 2})
			require.Error(t, err)
			require.True(t, apperr.IsKind(err, apperr.KindFileFormat), "got %v", err)
		})
	}
}

func TestLoad_ErrorNamesOffendingValue(t *testing.T) {
	_, err := Load(strings.NewReader("points\n1\n0 0\n"), Fixed, Options{Dim: 2})
	require.ErrorContains(t, err, `"points"`)
}

func TestLoad_BlankLinesIgnored(t *testing.T) {
	set, err := Load(strings.NewReader("\npoint\n\n1\n  3 4  \n\n"), Fixed, Options{Dim: 2})
	require.NoError(t, err)
	require.Equal(t, geometry.Point{3, 4}, set.Points[0])
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.txt"), Fixed, Options{Dim: 3})
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration), "got %v", err)
}

func TestWriteThenLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.txt")
	set := MustSet(3, geometry.Point{0.1, 1e-20, -7}, geometry.Point{1.0 / 3, 2, 3})

	require.NoError(t, WriteFile(path, set))

	got, err := LoadFile(path, Moving, Options{Dim: 3})
	require.NoError(t, err)
	require.Equal(t, set.Points, got.Points)
}

func TestWriteRows(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteRows(&sb, "determinant", [][]float64{{4}, {0.5}, {-1e-3}}))
	require.Equal(t, "determinant\n3\n4\n0.5\n-0.001\n", sb.String())

	path := filepath.Join(t.TempDir(), "jacobian.txt")
	require.NoError(t, WriteRowsFile(path, "jacobian", [][]float64{{2, 0, 0, 2}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "jacobian\n1\n2 0 0 2\n", string(data))
}

func TestFlattenFromFlat(t *testing.T) {
	set := MustSet(2, geometry.Point{1, 2}, geometry.Point{3, 4})
	flat := set.Flatten()
	require.Equal(t, []float64{1, 2, 3, 4}, flat)

	back, err := FromFlat(2, flat)
	require.NoError(t, err)
	require.Equal(t, set.Points, back.Points)

	_, err = FromFlat(2, []float64{1, 2, 3})
	require.True(t, apperr.IsKind(err, apperr.KindDimensionMismatch))
}

func TestNewSetRejectsMixedDimensions(t *testing.T) {
	_, err := NewSet(2, geometry.Point{1, 2}, geometry.Point{1, 2, 3})
	require.True(t, apperr.IsKind(err, apperr.KindDimensionMismatch))
}
