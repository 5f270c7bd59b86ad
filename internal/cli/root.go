package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath   string
	setOverrides []string
)

var rootCmd = &cobra.Command{
	Use:   "faststack",
	Short: "Deploy managed agent stacks from a declarative resource graph",
	Long: `Faststack provisions a complete agent stack from one configuration file:
identity, machine credentials, container build and publish, serverless
runtime, gateway, API and frontend distribution.

Resources are described as a typed graph; independent resources deploy in
parallel and every run ends with a full applied/failed/skipped report.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "faststack.yaml", "Path to the stack configuration file")
	rootCmd.PersistentFlags().StringArrayVar(&setOverrides, "set", nil, "Override a configuration value (format: key=value)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(smokeCmd)
	rootCmd.AddCommand(versionCmd)
}
