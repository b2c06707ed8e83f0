// Copyright © 2018 One Concern

package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/oneconcern/castor/pkg/core"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a directory into an artifact of a repository",
	Long: `Build a directory into an artifact of a repository.

Every regular file of the input directory is hashed, compressed and stored as a chunk.
The manifest of the artifact is stored under its own hash, and the artifact name is registered
to point at it. The manifest hash is printed on success.

Example:
  castor build --input ./dist --repo /srv/castor --name myapp-1.2.0`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		hasher, err := config.hasher()
		if err != nil {
			wrapFatalln("invalid hash scheme", err)
			return
		}
		codec, err := config.codec()
		if err != nil {
			wrapFatalln("invalid codec", err)
			return
		}

		id, stats, err := core.BuildWithStats(cmd.Context(),
			castorFlags.build.Input, castorFlags.build.Repo, castorFlags.build.Name,
			core.Logger(logger),
			core.Fs(appFs),
			core.Layout(config.Layout),
			core.Hasher(hasher),
			core.Codec(codec),
			core.Metrics(cliMetrics()),
		)
		if err != nil {
			wrapFatalln("build artifact", err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		logSuccess("built %s: %d files, %d chunks, %s stored for %s of content",
			castorFlags.build.Name, stats.Files, stats.Chunks,
			units.HumanSize(float64(stats.CompressedBytes)), units.HumanSize(float64(stats.RawBytes)))
	},
}

func init() {
	requireFlags(buildCmd,
		addInputFlag(buildCmd),
		addRepoFlag(buildCmd),
		addNameFlag(buildCmd),
	)
	rootCmd.AddCommand(buildCmd)
}
