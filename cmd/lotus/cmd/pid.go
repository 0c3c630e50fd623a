package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var errNotRunning = errors.New("nucleus is not running")

// writePIDFile records the current process ID.
func writePIDFile(path string) error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	return nil
}

// readPID returns the PID recorded in path.
func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("PID file %s is corrupt: %w", path, err)
	}
	return pid, nil
}

// processAlive reports whether the process with pid exists.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// removePIDFile deletes the PID file, tolerating its absence.
func removePIDFile(path string) {
	_ = os.Remove(path)
}
