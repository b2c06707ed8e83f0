package cmd

import (
	"context"
	"fmt"

	"github.com/oneconcern/castor/pkg/compress"
	"github.com/oneconcern/castor/pkg/core"
	"github.com/oneconcern/castor/pkg/hash"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/source"
	"github.com/oneconcern/castor/pkg/source/https"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLIConfig describes the CLI configuration.
type CLIConfig struct {
	LogLevel string        `json:"loglevel" yaml:"loglevel" mapstructure:"loglevel"`
	Store    StoreConfig   `json:"store" yaml:"store" mapstructure:"store"`
	Sources  []string      `json:"sources" yaml:"sources" mapstructure:"sources"`
	Hash     string        `json:"hash" yaml:"hash" mapstructure:"hash"`
	Codec    string        `json:"codec" yaml:"codec" mapstructure:"codec"`
	Layout   layout.Layout `json:"layout" yaml:"layout" mapstructure:"layout"`
	HTTP     HTTPConfig    `json:"http" yaml:"http" mapstructure:"http"`
	Metrics  MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig locates the local store and its cache
type StoreConfig struct {
	Path  string `json:"path" yaml:"path" mapstructure:"path"`
	Cache string `json:"cache" yaml:"cache" mapstructure:"cache"`
}

// HTTPConfig tunes HTTP(S) sources
type HTTPConfig struct {
	Retries int    `json:"retries" yaml:"retries" mapstructure:"retries"`
	MaxSize string `json:"maxsize,omitempty" yaml:"maxsize,omitempty" mapstructure:"maxsize"`
}

// MetricsConfig enables the prometheus endpoint
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr"`
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Layout.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *CLIConfig) hasher() (hash.Hasher, error) {
	return hash.New(c.Hash)
}

func (c *CLIConfig) codec() (compress.Codec, error) {
	return compress.ParseCodec(c.Codec)
}

func (c *CLIConfig) sources(ctx context.Context) ([]source.Source, error) {
	if len(c.Sources) == 0 {
		return nil, fmt.Errorf("no repository source configured: use --source or the 'sources' configuration key")
	}
	maxSize, err := https.MaxSizeString(c.HTTP.MaxSize)
	if err != nil {
		return nil, err
	}
	return source.ParseAll(ctx, c.Sources,
		source.Logger(logger),
		source.HTTPOptions(https.Retries(c.HTTP.Retries), maxSize),
	)
}

func (c *CLIConfig) store(ctx context.Context) (core.Store, error) {
	sources, err := c.sources(ctx)
	if err != nil {
		return core.Store{}, err
	}
	return core.Store{
		Path:      c.Store.Path,
		CacheRoot: c.Store.Cache,
		Sources:   sources,
		Layout:    c.Layout,
	}, nil
}

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage the castor configuration",
	Long: `Commands to manage the castor CLI configuration.

Configuration is read from castor.yaml, searched in the current directory, $HOME/.castor and /etc/castor,
or from the file designated by $CASTOR_CONFIG. Every key may be overridden by an environment variable
prefixed with CASTOR_, e.g. CASTOR_STORE_PATH, and by command line flags.`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
