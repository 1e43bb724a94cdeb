package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zqq-nuli/felay/internal/host"
)

func proxyCmd() *cobra.Command {
	var noProxy bool

	cmd := &cobra.Command{
		Use:   "proxy [flags] -- <command> [args...]",
		Short: "Wrap an AI CLI and bridge it to chat",
		Long: "Runs the given command under the bridge: terminal output streams to the\n" +
			"daemon, chat messages are typed into the tool, and for claude/codex the\n" +
			"API traffic is intercepted for loss-free replies.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			log := setupLogging()

			code, err := host.Run(cmd.Context(), host.Options{
				Dir:     appDir,
				Command: args,
				NoProxy: noProxy,
				Log:     log,
			})
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noProxy, "no-proxy", false, "disable API interception, terminal capture only")
	return cmd
}
