package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/feishu"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/internal/secret"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// botRef is one configured bot shown in pickers.
type botRef struct {
	ID   string
	Name string
	Kind string // "interactive" | "push"
}

// botOps abstracts where configuration changes land: a live daemon over IPC,
// or the config file directly when no daemon is running.
type botOps struct {
	saveInteractive func(name, appID, appSecret string) (string, error)
	savePush        func(name, webhookURL, signSecret string) (string, error)
	setDefault      func(kind, id string) error
	test            func(ref botRef) error
	list            func() ([]botRef, error)
	close           func()
	target          string
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive bot and defaults setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ops, err := newBotOps(cmd.Context())
			if err != nil {
				return err
			}
			defer ops.close()
			cmd.Printf("configuring %s\n", ops.target)

			for {
				var action string
				form := huh.NewForm(huh.NewGroup(
					huh.NewSelect[string]().
						Title("Felay configuration").
						Options(
							huh.NewOption("Add or update an interactive bot (two-way chat)", "interactive"),
							huh.NewOption("Add or update a push bot (webhook notifications)", "push"),
							huh.NewOption("Set default bots for new sessions", "defaults"),
							huh.NewOption("Test a bot", "test"),
							huh.NewOption("Done", "done"),
						).
						Value(&action),
				))
				if err := form.Run(); err != nil {
					return err
				}

				switch action {
				case "interactive":
					err = addInteractiveBot(cmd, ops)
				case "push":
					err = addPushBot(cmd, ops)
				case "defaults":
					err = chooseDefaults(cmd, ops)
				case "test":
					err = testBot(cmd, ops)
				case "done":
					return nil
				}
				if err != nil {
					cmd.Printf("error: %v\n", err)
				}
			}
		},
	}
}

func addInteractiveBot(cmd *cobra.Command, ops *botOps) error {
	var name, appID, appSecret string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Bot name").Value(&name).Validate(required),
		huh.NewInput().Title("App ID (cli_...)").Value(&appID).Validate(required),
		huh.NewInput().Title("App Secret").EchoMode(huh.EchoModePassword).Value(&appSecret).Validate(required),
	))
	if err := form.Run(); err != nil {
		return err
	}
	id, err := ops.saveInteractive(name, appID, appSecret)
	if err != nil {
		return err
	}
	cmd.Printf("saved interactive bot %s (%s)\n", name, id)
	return nil
}

func addPushBot(cmd *cobra.Command, ops *botOps) error {
	var name, webhookURL, signSecret string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Bot name").Value(&name).Validate(required),
		huh.NewInput().Title("Webhook URL").Value(&webhookURL).Validate(func(s string) error {
			if s == "" {
				return fmt.Errorf("required")
			}
			return feishu.ValidateWebhookURL(s)
		}),
		huh.NewInput().Title("Sign secret (optional)").EchoMode(huh.EchoModePassword).Value(&signSecret),
	))
	if err := form.Run(); err != nil {
		return err
	}
	id, err := ops.savePush(name, webhookURL, signSecret)
	if err != nil {
		return err
	}
	cmd.Printf("saved push bot %s (%s)\n", name, id)
	return nil
}

func chooseDefaults(cmd *cobra.Command, ops *botOps) error {
	bots, err := ops.list()
	if err != nil {
		return err
	}
	for _, kind := range []string{"interactive", "push"} {
		opts := []huh.Option[string]{huh.NewOption("(none)", "")}
		for _, b := range bots {
			if b.Kind == kind {
				opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%s)", b.Name, b.ID), b.ID))
			}
		}
		if len(opts) == 1 {
			continue
		}
		var id string
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Default %s bot", kind)).
				Options(opts...).
				Value(&id),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if err := ops.setDefault(kind, id); err != nil {
			return err
		}
	}
	cmd.Println("defaults saved")
	return nil
}

func testBot(cmd *cobra.Command, ops *botOps) error {
	bots, err := ops.list()
	if err != nil {
		return err
	}
	if len(bots) == 0 {
		return fmt.Errorf("no bots configured yet")
	}
	opts := make([]huh.Option[int], 0, len(bots))
	for i, b := range bots {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s %s (%s)", b.Kind, b.Name, b.ID), i))
	}
	var idx int
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().Title("Which bot?").Options(opts...).Value(&idx),
	))
	if err := form.Run(); err != nil {
		return err
	}
	if err := ops.test(bots[idx]); err != nil {
		return err
	}
	cmd.Println("test passed")
	return nil
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("required")
	}
	return nil
}

// newBotOps routes through a running daemon when one is up so live
// connections see the changes; otherwise it edits the config file directly.
func newBotOps(ctx context.Context) (*botOps, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	if client, err := ipc.Connect(ctx, paths.SocketPath); err == nil {
		return daemonOps(ctx, client), nil
	}
	return fileOps(paths)
}

func daemonOps(ctx context.Context, client *ipc.Client) *botOps {
	save := func(p protocol.SaveBotRequestPayload) (string, error) {
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var resp protocol.SaveBotResponsePayload
		if err := client.Request(rctx, protocol.TypeSaveBotRequest, p, &resp); err != nil {
			return "", err
		}
		if !resp.OK {
			return "", fmt.Errorf("%s", resp.Error)
		}
		return resp.ID, nil
	}
	return &botOps{
		target: "running daemon",
		close:  func() { client.Close() },
		saveInteractive: func(name, appID, appSecret string) (string, error) {
			return save(protocol.SaveBotRequestPayload{Kind: "interactive", Name: name, AppID: appID, AppSecret: appSecret})
		},
		savePush: func(name, webhookURL, signSecret string) (string, error) {
			return save(protocol.SaveBotRequestPayload{Kind: "push", Name: name, WebhookURL: webhookURL, SignSecret: signSecret})
		},
		setDefault: func(kind, id string) error {
			rctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			var ack protocol.Ack
			if err := client.Request(rctx, protocol.TypeSetDefaultBotRequest,
				protocol.SetDefaultBotRequestPayload{Kind: kind, BotID: id}, &ack); err != nil {
				return err
			}
			if !ack.OK {
				return fmt.Errorf("%s", ack.Error)
			}
			return nil
		},
		test: func(ref botRef) error {
			rctx, cancel := context.WithTimeout(ctx, requestTimeout*6)
			defer cancel()
			var ack protocol.Ack
			if err := client.Request(rctx, protocol.TypeTestBotRequest,
				protocol.TestBotRequestPayload{ID: ref.ID}, &ack); err != nil {
				return err
			}
			if !ack.OK {
				return fmt.Errorf("%s", ack.Error)
			}
			return nil
		},
		list: func() ([]botRef, error) {
			rctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			var resp protocol.ListBotsResponsePayload
			if err := client.Request(rctx, protocol.TypeListBotsRequest, nil, &resp); err != nil {
				return nil, err
			}
			var out []botRef
			for _, b := range resp.Interactive {
				out = append(out, botRef{ID: b.ID, Name: b.Name, Kind: "interactive"})
			}
			for _, b := range resp.Push {
				out = append(out, botRef{ID: b.ID, Name: b.Name, Kind: "push"})
			}
			return out, nil
		},
	}
}

func fileOps(paths config.Paths) (*botOps, error) {
	secrets, err := secret.Open(paths.KeyPath)
	if err != nil {
		return nil, err
	}
	store, err := config.Open(paths.ConfigPath, secrets)
	if err != nil {
		return nil, err
	}
	return &botOps{
		target: paths.ConfigPath,
		close:  func() {},
		saveInteractive: func(name, appID, appSecret string) (string, error) {
			return store.UpsertInteractiveBot(config.InteractiveBot{Name: name, AppID: appID, AppSecret: appSecret})
		},
		savePush: func(name, webhookURL, signSecret string) (string, error) {
			if err := feishu.ValidateWebhookURL(webhookURL); err != nil {
				return "", err
			}
			return store.UpsertPushBot(config.PushBot{Name: name, WebhookURL: webhookURL, SignSecret: signSecret})
		},
		setDefault: store.SetDefaultBot,
		test: func(ref botRef) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout*6)
			defer cancel()
			if ref.Kind == "interactive" {
				bot, ok := store.FindInteractiveBot(ref.ID)
				if !ok {
					return fmt.Errorf("bot not found")
				}
				return feishu.NewClient(bot.AppID, bot.AppSecret, "").Probe(ctx)
			}
			bot, ok := store.FindPushBot(ref.ID)
			if !ok {
				return fmt.Errorf("bot not found")
			}
			return feishu.NewWebhookSender().SendCard(ctx, bot.WebhookURL, bot.SignSecret,
				feishu.MarkdownCard("Felay", "Connectivity test passed."))
		},
		list: func() ([]botRef, error) {
			doc := store.Snapshot()
			var out []botRef
			for _, b := range doc.Bots.Interactive {
				out = append(out, botRef{ID: b.ID, Name: b.Name, Kind: "interactive"})
			}
			for _, b := range doc.Bots.Push {
				out = append(out, botRef{ID: b.ID, Name: b.Name, Kind: "push"})
			}
			return out, nil
		},
	}, nil
}
