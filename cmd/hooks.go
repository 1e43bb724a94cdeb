package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// hookTimeout keeps hook invocations from ever stalling the wrapped tool.
const hookTimeout = 3 * time.Second

// sendNotify forwards one completion signal; a missing daemon is not an
// error, the hook must never break the tool.
func sendNotify(msgType, cwd, message string) {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	if cwd == "" || message == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	paths, err := resolvePaths()
	if err != nil {
		return
	}
	client, err := ipc.Connect(ctx, paths.SocketPath)
	if err != nil {
		return
	}
	defer client.Close()
	client.Send(msgType, protocol.NotifyPayload{Cwd: cwd, Message: message})
}

func claudeHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "claude-hook",
		Short:  "Claude Code Stop-hook endpoint (reads hook JSON on stdin)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
			if err != nil {
				return nil
			}
			var payload struct {
				Cwd                  string `json:"cwd"`
				LastAssistantMessage string `json:"last_assistant_message"`
				Message              string `json:"message"`
			}
			json.Unmarshal(data, &payload)

			message := payload.LastAssistantMessage
			if message == "" {
				message = payload.Message
			}
			if message == "" {
				message = "Claude task completed."
			}
			sendNotify(protocol.TypeClaudeNotify, payload.Cwd, message)
			return nil
		},
	}
}

func codexNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "codex-notify [json]",
		Short:  "Codex notify endpoint (notification JSON as the first argument)",
		Hidden: true,
		Args:   cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return nil
			}
			var payload struct {
				Type                 string `json:"type"`
				Cwd                  string `json:"cwd"`
				LastAssistantMessage string `json:"last-assistant-message"`
			}
			json.Unmarshal([]byte(args[0]), &payload)

			if payload.Type != "" && payload.Type != "agent-turn-complete" {
				return nil
			}
			message := payload.LastAssistantMessage
			if message == "" {
				message = "Codex task completed."
			}
			sendNotify(protocol.TypeCodexNotify, payload.Cwd, message)
			return nil
		},
	}
}
