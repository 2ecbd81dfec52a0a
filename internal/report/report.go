// Package report provides the fit report written next to a fitted
// transform, and its persistence.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"splinekt/internal/apperr"
)

// FileName is the report name inside the output directory.
const FileName = "fit.json"

// File is the record of one fit run.
type File struct {
	Version int       `json:"version"`
	ID      string    `json:"id"`
	Created time.Time `json:"created"`

	Dimension       int     `json:"dimension"`
	KernelType      string  `json:"kernel_type"`
	Kernel          string  `json:"kernel"`
	InversionMethod string  `json:"inversion_method"`
	Relaxation      float64 `json:"relaxation"`
	PoissonRatio    float64 `json:"poisson_ratio"`
	Initial         string  `json:"initial"`

	// Paths (relative to the report)
	FixedLandmarksPath  string `json:"fixed_landmarks"`
	MovingLandmarksPath string `json:"moving_landmarks,omitempty"`
	TransformPath       string `json:"transform"`

	Landmarks int       `json:"landmarks"`
	Extent    *Extent   `json:"extent,omitempty"`
	Residual  *Residual `json:"residual,omitempty"`
}

// Extent is the bounding box of the fixed landmarks.
type Extent struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Residual summarizes the distances between the mapped fixed landmarks and
// the moving ones.
type Residual struct {
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

// New creates an empty report for dim-dimensional landmarks.
func New(dim int) *File {
	return &File{
		Version:   1,
		ID:        uuid.NewString(),
		Created:   time.Now().UTC(),
		Dimension: dim,
	}
}

// Load loads a report from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.Error{Op: "report.Load", Kind: apperr.KindConfiguration, Value: path, Err: err}
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &apperr.Error{Op: "report.Load", Kind: apperr.KindFileFormat, Value: path, Err: err}
	}
	return &f, nil
}

// Save saves the report to path.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// SetFixedLandmarks records the fixed landmark file relative to the report
// at reportPath.
func (f *File) SetFixedLandmarks(reportPath, path string) {
	f.FixedLandmarksPath = relative(reportPath, path)
}

// SetMovingLandmarks records the moving landmark file relative to the
// report at reportPath.
func (f *File) SetMovingLandmarks(reportPath, path string) {
	f.MovingLandmarksPath = relative(reportPath, path)
}

// SetTransform records the transform file relative to the report at
// reportPath.
func (f *File) SetTransform(reportPath, path string) {
	f.TransformPath = relative(reportPath, path)
}

// Resolve returns rel, a path stored in the report at reportPath, as a path
// usable from the working directory.
func Resolve(reportPath, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(reportPath), rel)
}

func relative(reportPath, path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	base, err := filepath.Abs(filepath.Dir(reportPath))
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return path
	}
	return rel
}
