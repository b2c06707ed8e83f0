// Copyright © 2018 One Concern

package cmd

import (
	"fmt"

	"github.com/oneconcern/castor/pkg/core"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/resolver"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Install an artifact into the local store",
	Long: `Install an artifact into the local store.

The registry is always fetched afresh from the sources, in the order they are configured.
Manifests and chunks are taken from the cache when present, and verified against their hash
when fetched. The artifact is published atomically as a tree of symbolic links, and its manifest
hash is printed on success.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := config.store(cmd.Context())
		if err != nil {
			wrapFatalln("configure store", err)
			return
		}
		hasher, err := config.hasher()
		if err != nil {
			wrapFatalln("invalid hash scheme", err)
			return
		}

		id, err := core.Install(cmd.Context(), args[0], store,
			core.Logger(logger),
			core.Fs(appFs),
			core.Layout(config.Layout),
			core.Hasher(hasher),
			core.Metrics(cliMetrics()),
		)
		if err != nil {
			for _, e := range resolver.SourceErrors(err) {
				logWarn("  %v", e)
			}
			wrapFatalln(fmt.Sprintf("install %s", args[0]), err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		logSuccess("installed %s at %s", args[0], layout.Join(store.Path, config.Layout.ArtifactPath(args[0])))
	},
}

var installedCmd = &cobra.Command{
	Use:   "installed <name>",
	Short: "Print the manifest hash of the installed version of an artifact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := core.Installed(appFs, core.Store{Path: config.Store.Path, Layout: config.Layout}, args[0])
		if err != nil {
			wrapFatalln(fmt.Sprintf("%s is not installed", args[0]), err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(installedCmd)
}
