package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	lotus "github.com/AetharaAI/LOTUS-sub001"
	"github.com/AetharaAI/LOTUS-sub001/feeders"
)

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Boot the nucleus and run in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			pidPath, _ := cmd.Flags().GetString("pid-file")

			if pid, err := readPID(pidPath); err == nil && processAlive(pid) {
				return fmt.Errorf("nucleus already running with PID %d", pid)
			}

			config, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			logger := lotus.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			nucleus := lotus.New(config, logger)

			if err := writePIDFile(pidPath); err != nil {
				return err
			}
			defer removePIDFile(pidPath)

			return nucleus.Run(context.Background())
		},
	}
}

// loadConfig feeds the configuration file and the LOTUS_* environment
// overlay. A missing default config file is tolerated; a file the
// operator named explicitly must exist.
func loadConfig(path string, explicit bool) (*lotus.Config, error) {
	var feederList []lotus.ConfigFeeder
	if _, err := os.Stat(path); err == nil {
		feederList = append(feederList, feeders.NewYamlFeeder(path))
	} else if explicit {
		return nil, fmt.Errorf("%w: %s", lotus.ErrConfigFileNotFound, path)
	}
	feederList = append(feederList, feeders.NewEnvFeeder("LOTUS"))

	config, err := lotus.NewConfig(feederList...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config, nil
}
