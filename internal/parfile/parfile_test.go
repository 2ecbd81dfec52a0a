package parfile

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"splinekt/internal/apperr"
)

const sample = `// Registration settings
(Transform "SplineKernelTransform")
(SplineRelaxationFactor 0.25)

(FixedImageLandmarks 1 2.5 -3e-07 4)
(NumberOfParameters 4) // trailing comment
(Description "two words")
`

func TestParse(t *testing.T) {
	rec, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	require.Equal(t, []string{"Transform", "SplineRelaxationFactor", "FixedImageLandmarks",
		"NumberOfParameters", "Description"}, rec.Keys())

	s, ok := rec.Get("Transform")
	require.True(t, ok)
	require.Equal(t, "SplineKernelTransform", s)

	f, ok, err := rec.Float("SplineRelaxationFactor")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.25, f)

	fs, ok, err := rec.Floats("FixedImageLandmarks")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float64{1, 2.5, -3e-07, 4}, fs)

	n, ok, err := rec.Int("NumberOfParameters")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, n)

	s, _ = rec.Get("Description")
	require.Equal(t, "two words", s)
}

func TestAbsentKeys(t *testing.T) {
	rec := New()
	_, ok := rec.Get("Missing")
	require.False(t, ok)

	_, ok, err := rec.Float("Missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = rec.Floats("Missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, rec.Has("Missing"))
}

func TestBadValues(t *testing.T) {
	rec, err := Parse(strings.NewReader("(A abc)\n(B 1 x)\n(C -1)\n"))
	require.NoError(t, err)

	_, _, err = rec.Float("A")
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	_, _, err = rec.Floats("B")
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	_, _, err = rec.Int("C")
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestParseErrors(t *testing.T) {
	for _, line := range []string{
		"Key 1)",
		"(Key 1",
		`(Key "unterminated)`,
		"()",
		`("quoted" 1)`,
		"(Key 1) junk",
	} {
		_, err := Parse(strings.NewReader(line + "\n"))
		require.True(t, apperr.IsKind(err, apperr.KindFileFormat), "line %q: %v", line, err)
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	rec := New()
	rec.Comment("SplineKernelTransform specific")
	rec.SetString("SplineKernelType", "VolumeSpline")
	rec.SetFloat("SplinePoissonRatio", 0.3)
	rec.SetInt("NumberOfParameters", 3)
	rec.SetFloat("FixedImageLandmarks", 1, math.Pi, -1e-300)

	text := rec.Text()
	require.Equal(t, `// SplineKernelTransform specific
(SplineKernelType "VolumeSpline")
(SplinePoissonRatio 0.3)
(NumberOfParameters 3)
(FixedImageLandmarks 1 3.141592653589793 -1e-300)
`, text)

	back, err := Parse(strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, text, back.Text())
}

func TestWriteParseRoundTrip_Backslashes(t *testing.T) {
	for _, path := range []string{
		`C:\runs\tp.initial.txt`,
		`\\server\share\tp.txt`,
		`trailing\`,
		"tab\tinside",
	} {
		rec := New()
		rec.SetString("InitialTransformParametersFileName", path)
		require.Equal(t, `(InitialTransformParametersFileName "`+path+`")`+"\n", rec.Text())

		back, err := Parse(strings.NewReader(rec.Text()))
		require.NoError(t, err)
		got, ok := back.Get("InitialTransformParametersFileName")
		require.True(t, ok)
		require.Equal(t, path, got)
		require.Equal(t, rec.Text(), back.Text())
	}
}

func TestWriteRejectsDoubleQuote(t *testing.T) {
	rec := New()
	rec.SetString("Name", `say "hi"`)
	var sb strings.Builder
	err := rec.Write(&sb)
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration), "got %v", err)
	require.ErrorContains(t, err, `say "hi"`)
}

func TestFormatFloatRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Float64().Draw(rt, "v")
		if math.IsNaN(v) || math.IsInf(v, 0) {
			rt.Skip("non-finite")
		}
		rec := New()
		rec.SetFloat("V", v)
		back, err := Parse(strings.NewReader(rec.Text()))
		require.NoError(rt, err)
		got, _, err := back.Float("V")
		require.NoError(rt, err)
		require.Equal(rt, v, got)
	})
}

func TestSetReplacesAndLookupTakesLast(t *testing.T) {
	rec, err := Parse(strings.NewReader("(A 1)\n(A 2)\n"))
	require.NoError(t, err)
	v, _, _ := rec.Float("A")
	require.Equal(t, 2.0, v)

	rec.SetFloat("A", 3)
	v, _, _ = rec.Float("A")
	require.Equal(t, 3.0, v)
}

func TestAppend(t *testing.T) {
	a := New()
	a.SetInt("X", 1)
	b := New()
	b.Comment("section")
	b.SetInt("X", 2)
	b.SetInt("Y", 3)
	a.Append(b)

	require.Equal(t, "(X 2)\n// section\n(Y 3)\n", a.Text())
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TransformParameters.0.txt")
	rec := New()
	rec.SetString("Transform", "SplineKernelTransform")
	require.NoError(t, rec.WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, rec.Text(), back.Text())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
