// Package cmd implements the splinekt command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"splinekt/internal/apperr"
	"splinekt/internal/config"
	"splinekt/internal/log"
	"splinekt/internal/tracing"
)

var version = "dev"

// NewRootCmd builds the command tree. Every call binds its flags to a fresh
// viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "splinekt",
		Short: "Landmark-driven spline kernel transforms",
		Long: `splinekt fits a spline kernel transform to corresponding landmarks of a
fixed and a moving image, stores it as a parameter file and maps points
through stored transforms.

Settings are read from flags, SPLINEKT_* environment variables and a YAML
config file (--config, or ./.splinekt.yaml when present), in that order of
precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: ./"+config.DefaultConfigPath+")")
	pf.String("log-level", config.Defaults().Log.Level, "log level: debug, info, warn or error")
	pf.String("log-format", config.Defaults().Log.Format, "log format: text or json")
	pf.String("log-file", "", "write logs to this file instead of stderr")
	pf.Bool("trace", false, "record trace spans")
	bindFlags(v, pf, map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"log.file":        "log-file",
		"tracing.enabled": "trace",
	})

	root.AddCommand(
		newFitCmd(v, &cfgFile),
		newApplyCmd(v, &cfgFile),
		newKernelsCmd(),
		newConfigCmd(v, &cfgFile),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
}

// bindFlags binds config keys to the named flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, fs.Lookup(name))
	}
}

// runtime is what every command that does work needs: the loaded config,
// a logger and a tracer.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	tracing  *tracing.Provider
	closeLog func() error
}

func setup(cmd *cobra.Command, v *viper.Viper, cfgFile string) (*runtime, error) {
	boot, err := log.New(cmd.ErrOrStderr(), log.DefaultConfig())
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, cfgFile, boot)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return nil, &apperr.Error{Op: "cmd.setup", Kind: apperr.KindConfiguration, Value: cfg.Log.Level, Err: err}
	}
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		_ = closeLog()
		return nil, &apperr.Error{Op: "cmd.setup", Kind: apperr.KindConfiguration, Value: cfg.Tracing.Exporter, Err: err}
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("config file loaded", "path", used)
	}
	return &runtime{cfg: cfg, logger: logger, tracing: provider, closeLog: closeLog}, nil
}

func newLogger(stderr io.Writer, cfg log.Config) (*slog.Logger, func() error, error) {
	if cfg.File != "" {
		return log.Setup(cfg)
	}
	logger, err := log.New(stderr, cfg)
	return logger, func() error { return nil }, err
}

func (r *runtime) close(ctx context.Context) error {
	return errors.Join(r.tracing.Shutdown(ctx), r.closeLog())
}

// requireDir fails unless path is an existing directory.
func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &apperr.Error{Op: "cmd.requireDir", Kind: apperr.KindConfiguration, Value: path,
			Err: fmt.Errorf("the output directory does not exist: %w", err)}
	}
	if !info.IsDir() {
		return apperr.New("cmd.requireDir", apperr.KindConfiguration, path, "the output path is not a directory")
	}
	return nil
}
