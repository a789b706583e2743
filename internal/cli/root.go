// Package cli holds the mixtex cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/config"
	"github.com/kennethnrk/mixtex-ocr/internal/logging"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// app carries what every command shares once the root command's
// PersistentPreRunE has run.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger

	// loader builds the model loader for the current config.
	loader loaderFunc
}

func newApp() *app {
	return &app{v: config.NewViper(), loader: onnxLoader}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mixtex",
		Short: "Recognize math formulas in images as LaTeX or Typst",
		Long: `Run the MixTeX OCR service or recognize images from the command line.

Examples:
  # Serve the HTTP and gRPC APIs
  mixtex serve --model-dir ./onnx

  # Recognize a local image
  mixtex predict formula.png --use-dollars

  # Recognize through a running server
  mixtex predict formula.png --remote localhost:50051

  # Install the released model
  mixtex download --model-dir ./onnx`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file path (e.g. mixtex.yaml)")
	pf.String("log-level", "info", "logging level (debug, info, warn, error)")
	pf.String("log-style", string(logging.StyleConsole), "logging style (console, json, noop)")
	pf.String("log-file", "", "also write JSON logs to this file")
	pf.String("model-dir", "model", "directory holding the ONNX model files")
	pf.String("data-dir", "data", "directory for feedback and install records")
	pf.String("device", "auto", "execution device (auto, cpu, cuda)")
	a.mustBindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	a.mustBindPFlag(config.KeyLogStyle, pf.Lookup("log-style"))
	a.mustBindPFlag(config.KeyLogFile, pf.Lookup("log-file"))
	a.mustBindPFlag(config.KeyModelDir, pf.Lookup("model-dir"))
	a.mustBindPFlag(config.KeyDataDir, pf.Lookup("data-dir"))
	a.mustBindPFlag(config.KeyDevice, pf.Lookup("device"))

	cmd.AddCommand(
		a.serveCommand(),
		a.predictCommand(),
		a.downloadCommand(),
		a.versionCommand(),
	)
	return cmd
}

func (a *app) mustBindPFlag(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// setup reads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	if a.cfgFile != "" {
		logger.Info("Using config file", zap.String("path", a.cfgFile))
	}
	return nil
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mixtex %s\n", Version)
		},
	}
}
