// Command annoboot generates loaders for annotated entry points.
//
// Usage:
//
//    annoboot [flags] [packages]
//
// For every package main in the given packages (by default, the package in
// the current directory) whose sources carry an @annoboot.Main function,
// annoboot writes two files next to the annotated source: a copy of the
// source without annotations, and a file with func main and the generated
// loader. Both are constrained to builds without the annoboot tag, while the
// annotated source is constrained to builds with it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jhump/annoboot"
	"github.com/jhump/annoboot/processor"
)

func main() {
	root := newRootCmd(os.Stderr)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	processor.RegisterProcessor(processor.GenerateLoaders)
}

type cliFlags struct {
	configFile   string
	dir          string
	logLevel     string
	buildTag     string
	runtimePkg   string
	outputDir    string
	includeTests bool
	verbose      bool
	stdout       bool
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var flags cliFlags
	cmd := &cobra.Command{
		Use:           "annoboot [flags] [packages]",
		Short:         "Generate loaders for @annoboot.Main entry points",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args, flags)
			if err != nil {
				printError(stderr, err)
			}
			return err
		},
	}
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "Config file (.yaml, .toml or .json); flags override its settings")
	f.StringVarP(&flags.dir, "dir", "C", "", "Directory in which packages are resolved; by default the current directory")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level baked into every loader, overriding annotations (trace, debug, info, warn, error)")
	f.StringVar(&flags.buildTag, "tags", annoboot.BuildTag, "Build tag that annotated sources are constrained to")
	f.StringVar(&flags.runtimePkg, "runtime", processor.DefaultRuntimePackage, "Import path of the runtime package used by generated code")
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory for generated files; by default they are written next to their sources")
	f.BoolVar(&flags.includeTests, "include-tests", false, "Also process test files")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose logging")
	f.BoolVar(&flags.stdout, "stdout", false, "Write generated files to stdout instead of to disk")
	return cmd
}

func run(cmd *cobra.Command, args []string, flags cliFlags) error {
	cfg := Config{}
	if flags.configFile != "" {
		var err error
		if cfg, err = ReadConfig(flags.configFile); err != nil {
			return errors.Wrapf(err, "could not read config file %s", flags.configFile)
		}
	}
	cfg.Merge(cmd, args, flags)
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"."}
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	defer logger.Sync() // nolint:errcheck
	logger.Debug("running", zap.Any("config", cfg))

	var output processor.OutputFactory
	if cfg.Stdout {
		output = stdoutFactory(cmd.OutOrStdout())
	} else {
		output = processor.DefaultOutputFactory(cfg.OutputDir)
	}

	pcfg := processor.Config{
		Patterns:     cfg.Packages,
		Dir:          flags.dir,
		IncludeTests: cfg.IncludeTests,
		Options: processor.Options{
			BuildTag:       cfg.BuildTag,
			LogLevel:       cfg.LogLevel,
			RuntimePackage: cfg.RuntimePackage,
		},
		OutputFactory: output,
		Logger:        logger,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return pcfg.Execute(ctx)
}

// stdoutFactory writes every output to w, each preceded by a comment with the
// path it would have been written to.
func stdoutFactory(w io.Writer) processor.OutputFactory {
	return func(path string) (io.WriteCloser, error) {
		if _, err := fmt.Fprintf(w, "// file: %s\n", filepath.ToSlash(path)); err != nil {
			return nil, err
		}
		return nopCloser{w}, nil
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	if !color.NoColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}
