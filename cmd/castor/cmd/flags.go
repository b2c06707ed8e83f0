package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type flagsT struct {
	build struct {
		Input string
		Repo  string
		Name  string
	}
	resolve struct {
		Fresh bool
	}
	config struct {
		Output string
	}
}

var castorFlags = flagsT{}

// bindFlag makes a flag override a configuration key
func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logFatalln(err)
	}
}

func addLogLevelFlag(cmd *cobra.Command) string {
	logLevel := "loglevel"
	cmd.PersistentFlags().String(logLevel, "", `The log level: one of "debug", "info", "warn", "error" or "none" (default from config: "info")`)
	bindFlag("loglevel", cmd.PersistentFlags().Lookup(logLevel))
	return logLevel
}

func addStorePathFlag(cmd *cobra.Command) string {
	store := "store"
	cmd.PersistentFlags().String(store, "", "The path to the local store (default from config: $HOME/.castor/store)")
	bindFlag("store.path", cmd.PersistentFlags().Lookup(store))
	return store
}

func addCacheFlag(cmd *cobra.Command) string {
	cache := "cache"
	cmd.PersistentFlags().String(cache, "", "The path to the local cache of fetched content (default from config: $HOME/.castor/cache)")
	bindFlag("store.cache", cmd.PersistentFlags().Lookup(cache))
	return cache
}

func addSourceFlag(cmd *cobra.Command) string {
	src := "source"
	cmd.PersistentFlags().StringSlice(src, nil,
		"A repository source, tried in the order given: a directory, file://, http(s)://, s3://bucket/prefix or gs://bucket/prefix. "+
			"May be repeated.")
	bindFlag("sources", cmd.PersistentFlags().Lookup(src))
	return src
}

func addHashFlag(cmd *cobra.Command) string {
	h := "hash"
	cmd.PersistentFlags().String(h, "", `The hash scheme used to name chunks and manifests: "xxh3", "xxhash" or "farm" (default from config: "xxh3")`)
	bindFlag("hash", cmd.PersistentFlags().Lookup(h))
	return h
}

func addCodecFlag(cmd *cobra.Command) string {
	codec := "codec"
	cmd.PersistentFlags().String(codec, "", `The compression codec for new chunks: "zstd" or "lz4" (default from config: "zstd")`)
	bindFlag("codec", cmd.PersistentFlags().Lookup(codec))
	return codec
}

func addMetricsAddrFlag(cmd *cobra.Command) string {
	addr := "metrics-addr"
	cmd.PersistentFlags().String(addr, "", "Serve prometheus metrics on this address while the command runs, e.g. ':9090'")
	bindFlag("metrics.addr", cmd.PersistentFlags().Lookup(addr))
	return addr
}

func addInputFlag(cmd *cobra.Command) string {
	input := "input"
	cmd.Flags().StringVar(&castorFlags.build.Input, input, "", "The directory to build the artifact from")
	return input
}

func addRepoFlag(cmd *cobra.Command) string {
	repo := "repo"
	cmd.Flags().StringVar(&castorFlags.build.Repo, repo, "", "The path to the repository")
	return repo
}

func addNameFlag(cmd *cobra.Command) string {
	name := "name"
	cmd.Flags().StringVar(&castorFlags.build.Name, name, "", "The name of the artifact")
	return name
}

func addFreshFlag(cmd *cobra.Command) string {
	fresh := "fresh"
	cmd.Flags().BoolVar(&castorFlags.resolve.Fresh, fresh, false, "Always fetch from the sources, even when a cached copy exists")
	return fresh
}

func addOutputFlag(cmd *cobra.Command) string {
	output := "output"
	cmd.Flags().StringVarP(&castorFlags.config.Output, output, "o", "", "Write to this file instead of the standard output")
	return output
}

func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}
}
