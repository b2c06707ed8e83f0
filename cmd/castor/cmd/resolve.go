package cmd

import (
	"fmt"

	"github.com/oneconcern/castor/pkg/resolver"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <relpath>",
	Short: "Fetch a repository file into the cache and print its local path",
	Long: `Fetch a repository file into the cache and print its local path.

The path is relative to the repository root, e.g. "artifacts" or "chunks/<hash>".
A cached copy is used when present, unless --fresh is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sources, err := config.sources(cmd.Context())
		if err != nil {
			wrapFatalln("configure sources", err)
			return
		}
		r := resolver.New(appFs, config.Store.Cache, sources,
			resolver.Logger(logger),
			resolver.Metrics(cliMetrics()),
		)

		resolve := r.Resolve
		if castorFlags.resolve.Fresh {
			resolve = r.ResolveFresh
		}
		local, err := resolve(cmd.Context(), args[0])
		if err != nil {
			for _, e := range resolver.SourceErrors(err) {
				logWarn("  %v", e)
			}
			wrapFatalln(fmt.Sprintf("resolve %s", args[0]), err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), local)
	},
}

func init() {
	addFreshFlag(resolveCmd)
	rootCmd.AddCommand(resolveCmd)
}
