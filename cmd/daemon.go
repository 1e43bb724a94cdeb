package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zqq-nuli/felay/internal/daemon"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the bridge daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}
}

func runDaemon(cmd *cobra.Command) error {
	cmd.SilenceUsage = true
	log := setupLogging()

	err := daemon.Run(context.Background(), daemon.Options{
		Dir:     appDir,
		Version: Version,
		Log:     log,
	})
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("another felay daemon is already running")
	}
	return err
}
