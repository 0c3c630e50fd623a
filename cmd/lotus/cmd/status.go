package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the nucleus is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, _ := cmd.Flags().GetString("pid-file")
			pid, err := readPID(pidPath)
			if err != nil {
				return err
			}
			if !processAlive(pid) {
				removePIDFile(pidPath)
				return errNotRunning
			}
			cmd.Printf("Nucleus running (PID %d)\n", pid)
			return nil
		},
	}
}
