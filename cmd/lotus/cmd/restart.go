package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop a running nucleus, then start a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, _ := cmd.Flags().GetString("pid-file")

			if err := stopNucleus(cmd, pidPath); err != nil && !errors.Is(err, errNotRunning) {
				return err
			}

			start := newStartCommand()
			start.Flags().AddFlagSet(cmd.Flags())
			return start.RunE(cmd, args)
		},
	}
}
