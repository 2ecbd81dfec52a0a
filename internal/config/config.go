// Package config provides configuration types, defaults and loading for
// splinekt.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"splinekt/internal/apperr"
	"splinekt/internal/kernel"
	"splinekt/internal/log"
	"splinekt/internal/tracing"
	"splinekt/pkg/geometry"
)

// DefaultConfigPath is read when no --config is given and the file exists.
const DefaultConfigPath = ".splinekt.yaml"

// EnvPrefix prefixes environment overrides, e.g. SPLINEKT_DIM=2.
const EnvPrefix = "SPLINEKT"

// Config holds all configuration options for splinekt.
type Config struct {
	Dim int `mapstructure:"dim" yaml:"dim"`

	// Landmark files. fp is required for fitting, mp is optional.
	Fixed  string `mapstructure:"fp" yaml:"fp,omitempty"`
	Moving string `mapstructure:"mp" yaml:"mp,omitempty"`

	// Parameters is an optional parameter file; its entries take
	// precedence over Spline.
	Parameters string `mapstructure:"parameters" yaml:"parameters,omitempty"`
	// Out is the output directory.
	Out string `mapstructure:"out" yaml:"out"`

	// Initial selects the initial transform composed with the spline:
	// "none", "affine" or "ransac".
	Initial string `mapstructure:"initial" yaml:"initial"`
	// RANSACThreshold is the inlier distance of the "ransac" estimator.
	RANSACThreshold float64 `mapstructure:"ransac_threshold" yaml:"ransac_threshold"`

	Spline     SplineConfig   `mapstructure:"spline" yaml:"spline"`
	FixedGrid  GridConfig     `mapstructure:"fixed_grid" yaml:"fixed_grid"`
	MovingGrid GridConfig     `mapstructure:"moving_grid" yaml:"moving_grid"`
	Log        log.Config     `mapstructure:"log" yaml:"log"`
	Tracing    tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// SplineConfig holds the transform settings used when no parameter file
// overrides them.
type SplineConfig struct {
	KernelType      string  `mapstructure:"kernel_type" yaml:"kernel_type"`
	Relaxation      float64 `mapstructure:"relaxation" yaml:"relaxation"`
	PoissonRatio    float64 `mapstructure:"poisson_ratio" yaml:"poisson_ratio"`
	InversionMethod string  `mapstructure:"inversion_method" yaml:"inversion_method"`
}

// GridConfig describes image sampling geometry. Image, when set, supplies
// the grid size from the image header.
type GridConfig struct {
	Image     string    `mapstructure:"image" yaml:"image,omitempty"`
	Origin    []float64 `mapstructure:"origin" yaml:"origin,omitempty"`
	Spacing   []float64 `mapstructure:"spacing" yaml:"spacing,omitempty"`
	Direction []float64 `mapstructure:"direction" yaml:"direction,omitempty"` // row-major D x D
	Size      []int     `mapstructure:"size" yaml:"size,omitempty"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Dim:             3,
		Out:             ".",
		Initial:         "none",
		RANSACThreshold: 1,
		Spline: SplineConfig{
			KernelType:      kernel.ThinPlateSpline.String(),
			Relaxation:      0,
			PoissonRatio:    kernel.DefaultPoissonRatio,
			InversionMethod: kernel.SVD.String(),
		},
		Log:     log.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
	}
}

// Aliases maps deprecated keys to their replacement.
var Aliases = map[string]string{
	"ipp": "fp",
}

// SetDefaults registers Defaults() with v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("dim", d.Dim)
	v.SetDefault("fp", "")
	v.SetDefault("mp", "")
	v.SetDefault("parameters", "")
	v.SetDefault("out", d.Out)
	v.SetDefault("initial", d.Initial)
	v.SetDefault("ransac_threshold", d.RANSACThreshold)
	v.SetDefault("spline.kernel_type", d.Spline.KernelType)
	v.SetDefault("spline.relaxation", d.Spline.Relaxation)
	v.SetDefault("spline.poisson_ratio", d.Spline.PoissonRatio)
	v.SetDefault("spline.inversion_method", d.Spline.InversionMethod)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads the configuration into v and decodes it. cfgFile overrides
// the lookup of DefaultConfigPath. Environment variables with EnvPrefix
// take precedence over the file; flags bound to v take precedence over
// both.
func Load(v *viper.Viper, cfgFile string, logger *slog.Logger) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(DefaultConfigPath):
		v.SetConfigFile(DefaultConfigPath)
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &apperr.Error{Op: "config.Load", Kind: apperr.KindConfiguration,
				Value: v.ConfigFileUsed(), Err: err}
		}
	}

	ApplyAliases(v, logger)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &apperr.Error{Op: "config.Load", Kind: apperr.KindConfiguration, Err: err}
	}
	return cfg, nil
}

// ApplyAliases copies every deprecated key that is set onto its replacement
// unless the replacement is set too, and warns about it.
func ApplyAliases(v *viper.Viper, logger *slog.Logger) {
	for legacy, current := range Aliases {
		value := v.GetString(legacy)
		if value == "" {
			continue
		}
		if logger != nil {
			logger.Warn("deprecated option, use the replacement instead", "option", legacy, "replacement", current)
		}
		if v.GetString(current) == "" {
			v.Set(current, value)
		}
	}
}

// Validate checks settings that are not validated by the components
// themselves.
func (c Config) Validate() error {
	const op = "config.Validate"
	if c.Dim < 2 || c.Dim > 4 {
		return apperr.New(op, apperr.KindConfiguration, fmt.Sprint(c.Dim), "dimension must be 2, 3 or 4")
	}
	switch c.Initial {
	case "none", "affine", "ransac":
	default:
		return apperr.New(op, apperr.KindConfiguration, c.Initial, "initial transform must be none, affine or ransac")
	}
	if c.Initial == "ransac" && !(c.RANSACThreshold > 0) {
		return apperr.New(op, apperr.KindConfiguration, fmt.Sprint(c.RANSACThreshold), "RANSAC threshold must be positive")
	}
	return nil
}

// IsSet reports whether any grid setting was given.
func (g GridConfig) IsSet() bool {
	return g.Image != "" || len(g.Origin) > 0 || len(g.Spacing) > 0 || len(g.Direction) > 0 || len(g.Size) > 0
}

// Grid builds the grid geometry for dim. Missing origin means zeros,
// missing spacing means ones and missing direction means identity. Size is
// only needed to enumerate the grid nodes.
func (g GridConfig) Grid(dim int) (*geometry.Grid, error) {
	grid := geometry.UnitGrid(dim)
	if len(g.Origin) > 0 {
		grid.Origin = geometry.NewPoint(g.Origin...)
	}
	if len(g.Spacing) > 0 {
		grid.Spacing = append([]float64(nil), g.Spacing...)
	}
	if len(g.Direction) > 0 {
		if len(g.Direction) != dim*dim {
			return nil, apperr.New("config.Grid", apperr.KindDimensionMismatch, fmt.Sprint(len(g.Direction)),
				"direction needs %d values", dim*dim)
		}
		grid.Direction = geometry.DirectionMatrix(dim, g.Direction)
	}
	if len(g.Size) > 0 {
		grid.Size = append([]int(nil), g.Size...)
	}
	if err := grid.Validate(); err != nil {
		return nil, &apperr.Error{Op: "config.Grid", Kind: apperr.KindConfiguration, Err: err}
	}
	return grid, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault creates a config file at path with the default settings.
// Creates the parent directory if it doesn't exist.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := Marshal(Defaults())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
