// Package cli implements the reef command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/reef-io/reef/internal/logging"
)

var (
	rootLogLevel  string
	rootLogFormat string
	backendType   string
	backendOpts   map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "reef",
	Short: "Declarative reconciliation for Pkl-defined resources",
	Long: `Reef reconciles declared resources against their last-applied state.

It evaluates a Pkl configuration into a resource graph, diffs it against
durable state, and executes the resulting plan concurrently through
providers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(rootLogLevel, rootLogFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&backendType, "backend", "local", "State backend (local, s3)")
	rootCmd.PersistentFlags().StringToStringVar(&backendOpts, "backend-config", nil, "State backend options (format: key=value)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
