package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a run. It can be read from a file, like:
//
//    # annoboot.yaml
//    packages: ["./cmd/..."]
//    log_level: debug
//    output_dir: gen
type Config struct {
	Packages       []string `json:"packages,omitempty" yaml:"packages,omitempty" toml:"packages,omitempty"`
	LogLevel       string   `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	BuildTag       string   `json:"build_tag,omitempty" yaml:"build_tag,omitempty" toml:"build_tag,omitempty"`
	RuntimePackage string   `json:"runtime,omitempty" yaml:"runtime,omitempty" toml:"runtime,omitempty"`
	OutputDir      string   `json:"output_dir,omitempty" yaml:"output_dir,omitempty" toml:"output_dir,omitempty"`
	IncludeTests   bool     `json:"include_tests,omitempty" yaml:"include_tests,omitempty" toml:"include_tests,omitempty"`
	Verbose        bool     `json:"verbose,omitempty" yaml:"verbose,omitempty" toml:"verbose,omitempty"`
	Stdout         bool     `json:"stdout,omitempty" yaml:"stdout,omitempty" toml:"stdout,omitempty"`
}

// ReadConfig reads the config file at the given path. The format is chosen by
// the file's extension.
func ReadConfig(fpath string) (Config, error) {
	var cfg Config

	f, err := os.Open(fpath)
	if err != nil {
		return cfg, err
	}
	defer f.Close() // nolint:errcheck

	switch filepath.Ext(fpath) {
	case ".json":
		err = json.NewDecoder(f).Decode(&cfg)

	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&cfg)

	case ".toml":
		err = toml.NewDecoder(f).Decode(&cfg)

	default:
		err = errors.Errorf("unsupported config format %q, use .yaml, .toml or .json", filepath.Ext(fpath))
	}
	return cfg, err
}

// Merge applies the flags that were set on the command line, and the package
// arguments if there are any, over cfg.
func (cfg *Config) Merge(cmd *cobra.Command, args []string, flags cliFlags) {
	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}
	if len(args) > 0 {
		cfg.Packages = args
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("tags") || cfg.BuildTag == "" {
		cfg.BuildTag = flags.buildTag
	}
	if changed("runtime") || cfg.RuntimePackage == "" {
		cfg.RuntimePackage = flags.runtimePkg
	}
	if changed("output-dir") {
		cfg.OutputDir = flags.outputDir
	}
	if changed("include-tests") {
		cfg.IncludeTests = flags.includeTests
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
	if changed("stdout") {
		cfg.Stdout = flags.stdout
	}
}
