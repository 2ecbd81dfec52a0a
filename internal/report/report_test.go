package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"splinekt/internal/apperr"
)

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run1", FileName)
	require.NoError(t, os.Mkdir(filepath.Dir(path), 0o755))

	f := New(2)
	f.KernelType = "ThinPlateSpline"
	f.Kernel = "ThinPlateR2LogRSpline"
	f.InversionMethod = "SVD"
	f.Initial = "none"
	f.Landmarks = 4
	f.Extent = &Extent{Min: []float64{0, 0}, Max: []float64{1, 1}}
	f.Residual = &Residual{Mean: 1e-12, Max: 3e-12}
	f.SetFixedLandmarks(path, filepath.Join(dir, "fixed.txt"))
	f.SetTransform(path, filepath.Join(dir, "run1", "TransformParameters.0.txt"))
	require.NoError(t, f.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	_, err = uuid.Parse(got.ID)
	require.NoError(t, err)
	require.NotEqual(t, got.ID, New(2).ID)
	require.True(t, f.Created.Equal(got.Created))
	got.Created = f.Created
	require.Equal(t, f, got)

	require.Equal(t, filepath.Join("..", "fixed.txt"), got.FixedLandmarksPath)
	require.Empty(t, got.MovingLandmarksPath)
	require.Equal(t, "TransformParameters.0.txt", got.TransformPath)
	require.Equal(t, filepath.Join(dir, "fixed.txt"), Resolve(path, got.FixedLandmarksPath))
}

func TestResolve(t *testing.T) {
	require.Equal(t, "", Resolve("out/fit.json", ""))
	require.Equal(t, "/abs/fixed.txt", Resolve("out/fit.json", "/abs/fixed.txt"))
	require.Equal(t, filepath.Join("out", "tp.txt"), Resolve(filepath.Join("out", "fit.json"), "tp.txt"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.True(t, apperr.IsKind(err, apperr.KindConfiguration))

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = Load(path)
	require.True(t, apperr.IsKind(err, apperr.KindFileFormat))
}
