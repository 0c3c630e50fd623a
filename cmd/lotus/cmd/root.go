// Package cmd implements the lotus process-control CLI: start, stop,
// status, and restart translate to boot/shutdown calls on the nucleus
// plus PID-file bookkeeping.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the lotus CLI command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lotus",
		Short: "LOTUS nucleus process control",
		Long: `Control a LOTUS nucleus process.

The nucleus boots a set of independently-developed modules, wires them
together over a publish/subscribe event bus, and manages their lifecycle.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "lotus.yaml", "path to the nucleus configuration file")
	rootCmd.PersistentFlags().String("pid-file", "lotus.pid", "path to the PID file")

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRestartCommand())
	return rootCmd
}
