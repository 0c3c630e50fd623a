package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// stopWait bounds how long stop waits for the process to exit.
const stopWait = 30 * time.Second

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running nucleus to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, _ := cmd.Flags().GetString("pid-file")
			return stopNucleus(cmd, pidPath)
		},
	}
}

func stopNucleus(cmd *cobra.Command, pidPath string) error {
	pid, err := readPID(pidPath)
	if err != nil {
		return err
	}
	if !processAlive(pid) {
		removePIDFile(pidPath)
		return fmt.Errorf("%w (stale PID file removed)", errNotRunning)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal PID %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			removePIDFile(pidPath)
			cmd.Printf("Nucleus stopped (PID %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("nucleus PID %d did not exit within %s", pid, stopWait)
}
