package cmd

import (
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/spf13/cobra"
)

// storeCmd represents the store related commands
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Commands to manage the local store",
}

var storeCreate = &cobra.Command{
	Use:   "create",
	Short: "Create the local store and its cache",
	Long: `Create the local store and its cache directory, at the locations given by --store and --cache
or by the configuration.

The store location must not exist yet. The cache directory may already exist.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := layout.CreateStore(appFs, config.Store.Path, config.Store.Cache, config.Layout); err != nil {
			wrapFatalln("create store", err)
			return
		}
		logSuccess("store created at %s", config.Store.Path)
	},
}

func init() {
	storeCmd.AddCommand(storeCreate)
	rootCmd.AddCommand(storeCmd)
}
