package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// requestTimeout bounds one control round trip from a subcommand.
const requestTimeout = 5 * time.Second

// dialDaemon connects to a running daemon or reports that none is up.
func dialDaemon(ctx context.Context) (*ipc.Client, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	client, err := ipc.Connect(ctx, paths.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon is not running (start it with `felay daemon`)")
	}
	return client, nil
}

func resolvePaths() (config.Paths, error) {
	if appDir != "" {
		return config.PathsIn(appDir), nil
	}
	return config.DefaultPaths()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			client, err := dialDaemon(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var status protocol.StatusResponsePayload
			if err := client.Request(ctx, protocol.TypeStatusRequest, nil, &status); err != nil {
				return err
			}

			uptime := time.Since(time.UnixMilli(status.StartedAt)).Round(time.Second)
			cmd.Printf("felay %s  pid %d  up %s\n", status.Version, status.PID, uptime)

			if len(status.Sessions) == 0 {
				cmd.Println("no sessions")
			}
			for _, s := range status.Sessions {
				bots := ""
				if s.InteractiveBotID != "" {
					bots += "  interactive=" + s.InteractiveBotID
				}
				if s.PushBotID != "" {
					bots += fmt.Sprintf("  push=%s(enabled=%v)", s.PushBotID, s.PushEnabled)
				}
				cmd.Printf("%s  %-10s %-10s %s%s\n", s.SessionID, s.CLI, s.Status, s.Cwd, bots)
			}
			for _, w := range status.Warnings {
				cmd.Printf("warning: bot %s: %s\n", w.BotID, w.Message)
			}
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			client, err := dialDaemon(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var ack protocol.Ack
			if err := client.Request(ctx, protocol.TypeStopRequest, nil, &ack); err != nil {
				return err
			}
			if !ack.OK {
				return fmt.Errorf("stop refused: %s", ack.Error)
			}
			cmd.Println("daemon stopping")
			return nil
		},
	}
}
