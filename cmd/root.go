package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/zqq-nuli/felay/cmd.Version=v1.0.0"
var Version = "dev"

var (
	appDir  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "felay",
	Short: "Feishu relay for terminal AI CLIs",
	Long: "Felay bridges terminal AI CLIs (Claude Code, Codex) to Feishu/Lark chat:\n" +
		"wrap a tool with `felay proxy -- claude` and drive it from your phone.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&appDir, "dir", "", "app directory (default: ~/.felay)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(proxyCmd())
	rootCmd.AddCommand(claudeHookCmd())
	rootCmd.AddCommand(codexNotifyCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("felay %s\n", Version)
		},
	}
}

func setupLogging() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
