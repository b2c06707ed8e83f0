// Copyright © 2018 One Concern

package cmd

import (
	"fmt"

	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/registry"
	"github.com/spf13/cobra"
)

// repoCmd represents the repo related commands
var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Commands to manage repositories",
	Long: `Commands to manage repositories.

A repository holds compressed chunks, manifests and the registry mapping artifact names
to manifest hashes. It may be served as-is by any static file server or object store.`,
}

var repoCreate = &cobra.Command{
	Use:   "create <path>",
	Short: "Create an empty repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := layout.CreateRepo(appFs, args[0], config.Layout); err != nil {
			wrapFatalln("create repository", err)
			return
		}
		logSuccess("repository created at %s", args[0])
	},
}

var repoList = &cobra.Command{
	Use:   "list <path>",
	Short: "List the artifacts registered in a repository",
	Long: `List the artifacts registered in a local repository, one "name:manifest" per line.

Records are listed in registry order: when a name appears more than once, the first record wins.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg := registry.New(appFs, layout.Join(args[0], config.Layout.RegistryPath()))
		records, err := reg.List()
		if err != nil {
			wrapFatalln("list artifacts", err)
			return
		}
		for _, record := range records {
			fmt.Fprintln(cmd.OutOrStdout(), record.String())
		}
	},
}

func init() {
	repoCmd.AddCommand(repoCreate)
	repoCmd.AddCommand(repoList)
	rootCmd.AddCommand(repoCmd)
}
