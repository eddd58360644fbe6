// Package main provides the operator CLI for journey and segment definitions,
// one-off sweeps and journey cancellation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var outputJSON bool

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enginectl",
		Short: "Operator tooling for the engagement engine",
		Long: `enginectl validates journey definitions, evaluates keyed segments against
recorded events, runs one computed property sweep for a workspace and cancels
the active instances of a journey.

Definition files may be JSON or YAML.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newValidateJourneyCmd(),
		newEvaluateKeyedCmd(),
		newSweepCmd(),
		newCancelJourneyCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
