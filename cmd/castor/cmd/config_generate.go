package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var configGenerate = &cobra.Command{
	Use:   "generate",
	Short: "Generate a configuration file",
	Long: `Generate a configuration file from the current settings (defaults, config file, environment and flags).

Example:
  castor config generate --source https://artifacts.example.com/repo -o $HOME/.castor/castor.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		o, err := yaml.Marshal(config)
		if err != nil {
			wrapFatalln("serialize config to yaml", err)
			return
		}
		if castorFlags.config.Output == "" {
			_, _ = cmd.OutOrStdout().Write(o)
			return
		}
		if err = os.WriteFile(castorFlags.config.Output, o, 0644); err != nil {
			wrapFatalln("write config file", err)
			return
		}
		logSuccess("configuration written to %s", castorFlags.config.Output)
	},
}

func init() {
	addOutputFlag(configGenerate)
	configCmd.AddCommand(configGenerate)
}
