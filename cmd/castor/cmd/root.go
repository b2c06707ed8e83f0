// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oneconcern/castor/pkg/dlogger"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "castor",
	Short: "Castor distributes build artifacts as content-addressed chunks",
	Long: `Castor distributes build artifacts as content-addressed chunks.

A producer builds a directory tree into a repository: every distinct file content is stored once
as a compressed chunk named after its hash, and a manifest lists the files of the artifact.

A consumer installs a named artifact into a local store: the manifest and chunks are fetched
from an ordered list of repository sources (local directories, HTTP(S) servers, S3 or GCS buckets),
verified, then published atomically as a tree of symbolic links.
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		startMetricsServer()
	},
}

var (
	config *CLIConfig
	logger = zap.NewNop()

	// appFs is the filesystem the CLI works on
	appFs afero.Fs = afero.NewOsFs()
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		osExit(1)
	}
	_ = logger.Sync()
}

func init() {
	cobra.OnInitialize(initConfig)

	addLogLevelFlag(rootCmd)
	addStorePathFlag(rootCmd)
	addCacheFlag(rootCmd)
	addSourceFlag(rootCmd)
	addHashFlag(rootCmd)
	addCodecFlag(rootCmd)
	addMetricsAddrFlag(rootCmd)
}

func setDefaults() {
	base := ".castor"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".castor")
	}
	l := layout.Default()

	viper.SetDefault("loglevel", dlogger.LogLevelInfo)
	viper.SetDefault("store.path", filepath.Join(base, "store"))
	viper.SetDefault("store.cache", filepath.Join(base, "cache"))
	viper.SetDefault("sources", []string{})
	viper.SetDefault("hash", "xxh3")
	viper.SetDefault("codec", "zstd")
	viper.SetDefault("layout.chunks", l.Chunks)
	viper.SetDefault("layout.manifests", l.Manifests)
	viper.SetDefault("layout.artifacts", l.Artifacts)
	viper.SetDefault("http.retries", 3)
	viper.SetDefault("http.maxsize", "")
	viper.SetDefault("metrics.addr", "")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()
	if cfgFile := os.Getenv("CASTOR_CONFIG"); cfgFile != "" {
		// Use config file from the environment.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.castor")
		viper.AddConfigPath("/etc/castor")
		viper.SetConfigName("castor")
	}

	viper.SetEnvPrefix("castor")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	configErr := viper.ReadInConfig()

	var err error
	config, err = newConfig()
	if err != nil {
		wrapFatalln("invalid configuration", err)
		return
	}

	logger, err = dlogger.GetLogger(config.LogLevel, true)
	if err != nil {
		wrapFatalln("invalid log level", err)
		return
	}
	if configErr == nil {
		logger.Debug("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
