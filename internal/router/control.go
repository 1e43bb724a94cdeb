package router

import (
	"context"
	"errors"
	"os"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/feishu"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/internal/registry"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// handleControl serves the *_request surface. Unknown types are silently
// ignored so newer GUIs can probe older daemons.
func (r *Router) handleControl(ctx context.Context, conn *ipc.Conn, msg *protocol.Message) {
	respType := protocol.ResponseType(msg.Type)
	if respType == "" {
		r.log.Debug("ignoring unknown frame type", "type", msg.Type)
		return
	}

	switch msg.Type {
	case protocol.TypeStatusRequest:
		conn.Send(respType, r.statusPayload())
	case protocol.TypeStopRequest:
		conn.Send(respType, protocol.Ack{OK: true})
		if r.shutdown != nil {
			r.shutdown()
		}
	case protocol.TypeListBotsRequest:
		conn.Send(respType, r.listBotsPayload())
	case protocol.TypeSaveBotRequest:
		conn.Send(respType, r.saveBot(msg))
	case protocol.TypeDeleteBotRequest:
		conn.Send(respType, r.deleteBot(msg))
	case protocol.TypeBindBotRequest:
		conn.Send(respType, r.bindBot(ctx, msg))
	case protocol.TypeUnbindBotRequest:
		conn.Send(respType, r.unbindBot(msg))
	case protocol.TypeTestBotRequest:
		conn.Send(respType, r.testBot(ctx, msg))
	case protocol.TypeGetConfigRequest:
		conn.Send(respType, r.settingsPayload())
	case protocol.TypeSaveConfigRequest:
		conn.Send(respType, r.saveConfig(msg))
	case protocol.TypeSetDefaultBotRequest:
		conn.Send(respType, r.setDefaultBot(msg))
	case protocol.TypeGetDefaultsRequest:
		conn.Send(respType, r.defaultsPayload())
	case protocol.TypeCheckCodexConfigRequest:
		conn.Send(respType, r.checkToolConfig(r.tools.CheckCodex))
	case protocol.TypeSetupCodexConfigRequest:
		conn.Send(respType, ackFromErr(r.tools.SetupCodex()))
	case protocol.TypeCheckClaudeConfigRequest:
		conn.Send(respType, r.checkToolConfig(r.tools.CheckClaude))
	case protocol.TypeSetupClaudeConfigRequest:
		conn.Send(respType, ackFromErr(r.tools.SetupClaude()))
	default:
		conn.Send(respType, protocol.Ack{OK: false, Error: "unsupported operation"})
	}
}

func ackFromErr(err error) protocol.Ack {
	if err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}
	return protocol.Ack{OK: true}
}

func (r *Router) statusPayload() protocol.StatusResponsePayload {
	sessions := r.reg.List()
	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, protocol.SessionInfo{
			SessionID:        s.SessionID,
			CLI:              s.CLI,
			Cwd:              s.Cwd,
			Status:           s.Status,
			InteractiveBotID: s.InteractiveBotID,
			PushBotID:        s.PushBotID,
			PushEnabled:      s.PushEnabled,
			ProxyMode:        s.ProxyMode,
			StartedAt:        s.StartedAt.UnixMilli(),
			UpdatedAt:        s.UpdatedAt.UnixMilli(),
		})
	}
	warnings := make([]protocol.Warning, 0)
	for _, w := range r.conns.Warnings() {
		warnings = append(warnings, protocol.Warning{BotID: w.BotID, Message: w.Message})
	}
	return protocol.StatusResponsePayload{
		Version:   r.version,
		PID:       os.Getpid(),
		StartedAt: r.startedAt.UnixMilli(),
		Sessions:  infos,
		Warnings:  warnings,
	}
}

func (r *Router) listBotsPayload() protocol.ListBotsResponsePayload {
	doc := r.cfg.Snapshot()
	out := protocol.ListBotsResponsePayload{
		Interactive: make([]protocol.InteractiveBotInfo, 0, len(doc.Bots.Interactive)),
		Push:        make([]protocol.PushBotInfo, 0, len(doc.Bots.Push)),
	}
	for _, b := range doc.Bots.Interactive {
		_, connected := r.conns.Client(b.ID)
		out.Interactive = append(out.Interactive, protocol.InteractiveBotInfo{
			ID:        b.ID,
			Name:      b.Name,
			AppID:     b.AppID,
			HasSecret: b.AppSecret != "",
			Healthy:   r.conns.IsHealthy(b.ID),
			Connected: connected,
		})
	}
	for _, b := range doc.Bots.Push {
		out.Push = append(out.Push, protocol.PushBotInfo{
			ID:         b.ID,
			Name:       b.Name,
			WebhookURL: b.WebhookURL,
			HasSecret:  b.SignSecret != "",
		})
	}
	return out
}

func (r *Router) saveBot(msg *protocol.Message) protocol.SaveBotResponsePayload {
	var p protocol.SaveBotRequestPayload
	if err := msg.Into(&p); err != nil {
		return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: false, Error: err.Error()}}
	}

	switch p.Kind {
	case "interactive":
		id, err := r.cfg.UpsertInteractiveBot(config.InteractiveBot{
			ID:         p.ID,
			Name:       p.Name,
			AppID:      p.AppID,
			AppSecret:  p.AppSecret,
			EncryptKey: p.EncryptKey,
		})
		if err != nil {
			return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: false, Error: err.Error()}}
		}
		return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: true}, ID: id}
	case "push":
		if err := feishu.ValidateWebhookURL(p.WebhookURL); err != nil {
			return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: false, Error: err.Error()}}
		}
		id, err := r.cfg.UpsertPushBot(config.PushBot{
			ID:         p.ID,
			Name:       p.Name,
			WebhookURL: p.WebhookURL,
			SignSecret: p.SignSecret,
		})
		if err != nil {
			return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: false, Error: err.Error()}}
		}
		return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: true}, ID: id}
	default:
		return protocol.SaveBotResponsePayload{Ack: protocol.Ack{OK: false, Error: "unknown bot kind"}}
	}
}

// deleteBot removes the bot from config, unbinds every session referencing
// it, and stops its connection when nothing is bound anymore.
func (r *Router) deleteBot(msg *protocol.Message) protocol.Ack {
	var p protocol.DeleteBotRequestPayload
	if err := msg.Into(&p); err != nil || p.ID == "" {
		return protocol.Ack{OK: false, Error: "bot not found"}
	}

	kind, err := r.cfg.DeleteBot(p.ID)
	if errors.Is(err, config.ErrBotNotFound) {
		return protocol.Ack{OK: false, Error: "bot not found"}
	}
	if err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}

	touched := r.reg.UnbindBotEverywhere(p.ID)
	if kind == "interactive" && r.reg.CountActiveByBot(p.ID) == 0 {
		r.conns.StopInteractive(p.ID)
	}
	if len(touched) > 0 {
		r.log.Info("bot deleted, sessions unbound", "bot", p.ID, "sessions", touched)
	}
	return protocol.Ack{OK: true}
}

func (r *Router) bindBot(ctx context.Context, msg *protocol.Message) protocol.Ack {
	var p protocol.BindBotRequestPayload
	if err := msg.Into(&p); err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}

	switch p.Kind {
	case "interactive":
		bot, ok := r.cfg.FindInteractiveBot(p.BotID)
		if !ok {
			return protocol.Ack{OK: false, Error: "bot not found"}
		}
		if !r.reg.BindInteractive(p.SessionID, p.BotID) {
			return protocol.Ack{OK: false, Error: "session not found"}
		}
		r.conns.StartInteractive(ctx, bot)
	case "push":
		if _, ok := r.cfg.FindPushBot(p.BotID); !ok {
			return protocol.Ack{OK: false, Error: "bot not found"}
		}
		if !r.reg.BindPush(p.SessionID, p.BotID, p.PushEnabled) {
			return protocol.Ack{OK: false, Error: "session not found"}
		}
	default:
		return protocol.Ack{OK: false, Error: "unknown bot kind"}
	}
	return protocol.Ack{OK: true}
}

func (r *Router) unbindBot(msg *protocol.Message) protocol.Ack {
	var p protocol.UnbindBotRequestPayload
	if err := msg.Into(&p); err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}

	s, _ := r.reg.Get(p.SessionID)
	var ok bool
	switch p.Kind {
	case "interactive":
		ok = r.reg.UnbindInteractive(p.SessionID)
		if ok && s.InteractiveBotID != "" && r.reg.CountActiveByBot(s.InteractiveBotID) == 0 {
			r.conns.StopInteractive(s.InteractiveBotID)
		}
	case "push":
		ok = r.reg.UnbindPush(p.SessionID)
	default:
		return protocol.Ack{OK: false, Error: "unknown bot kind"}
	}
	if !ok {
		return protocol.Ack{OK: false, Error: "session not found"}
	}
	return protocol.Ack{OK: true}
}

func (r *Router) testBot(ctx context.Context, msg *protocol.Message) protocol.Ack {
	var p protocol.TestBotRequestPayload
	if err := msg.Into(&p); err != nil || p.ID == "" {
		return protocol.Ack{OK: false, Error: "bot not found"}
	}

	tctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if bot, ok := r.cfg.FindInteractiveBot(p.ID); ok {
		return ackFromErr(r.conns.TestInteractive(tctx, bot))
	}
	if bot, ok := r.cfg.FindPushBot(p.ID); ok {
		return ackFromErr(r.conns.TestPush(tctx, bot))
	}
	return protocol.Ack{OK: false, Error: "bot not found"}
}

func (r *Router) settingsPayload() protocol.SettingsPayload {
	doc := r.cfg.Snapshot()
	return protocol.SettingsPayload{
		Reconnect: &protocol.ReconnectSettings{
			MaxRetries:        doc.Reconnect.MaxRetries,
			InitialInterval:   doc.Reconnect.InitialInterval,
			BackoffMultiplier: doc.Reconnect.BackoffMultiplier,
		},
		Push: &protocol.PushSettings{
			MergeWindowMs:   doc.Push.MergeWindowMs,
			MaxMessageBytes: doc.Push.MaxMessageBytes,
		},
		Defaults: &protocol.DefaultsPayload{
			DefaultInteractiveBotID: doc.Defaults.DefaultInteractiveBotID,
			DefaultPushBotID:        doc.Defaults.DefaultPushBotID,
		},
		Input: &protocol.InputSettings{
			EnterRetryCount:    doc.Input.EnterRetryCount,
			EnterRetryInterval: doc.Input.EnterRetryInterval,
		},
	}
}

func (r *Router) saveConfig(msg *protocol.Message) protocol.Ack {
	var p protocol.SettingsPayload
	if err := msg.Into(&p); err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}

	in := config.Settings{}
	if p.Reconnect != nil {
		in.Reconnect = &config.Reconnect{
			MaxRetries:        p.Reconnect.MaxRetries,
			InitialInterval:   p.Reconnect.InitialInterval,
			BackoffMultiplier: p.Reconnect.BackoffMultiplier,
		}
	}
	if p.Push != nil {
		in.Push = &config.Push{
			MergeWindowMs:   p.Push.MergeWindowMs,
			MaxMessageBytes: p.Push.MaxMessageBytes,
		}
	}
	if p.Defaults != nil {
		in.Defaults = &config.Defaults{
			DefaultInteractiveBotID: p.Defaults.DefaultInteractiveBotID,
			DefaultPushBotID:        p.Defaults.DefaultPushBotID,
		}
	}
	if p.Input != nil {
		in.Input = &config.Input{
			EnterRetryCount:    p.Input.EnterRetryCount,
			EnterRetryInterval: p.Input.EnterRetryInterval,
		}
	}
	if err := r.cfg.SaveSettings(in); err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}
	r.ApplyReloadedSettings()
	return protocol.Ack{OK: true}
}

func (r *Router) setDefaultBot(msg *protocol.Message) protocol.Ack {
	var p protocol.SetDefaultBotRequestPayload
	if err := msg.Into(&p); err != nil {
		return protocol.Ack{OK: false, Error: err.Error()}
	}
	err := r.cfg.SetDefaultBot(p.Kind, p.BotID)
	if errors.Is(err, config.ErrBotNotFound) {
		return protocol.Ack{OK: false, Error: "bot not found"}
	}
	return ackFromErr(err)
}

func (r *Router) defaultsPayload() protocol.DefaultsPayload {
	doc := r.cfg.Snapshot()
	return protocol.DefaultsPayload{
		DefaultInteractiveBotID: doc.Defaults.DefaultInteractiveBotID,
		DefaultPushBotID:        doc.Defaults.DefaultPushBotID,
	}
}

func (r *Router) checkToolConfig(check func() (bool, string, error)) protocol.ToolConfigStatusPayload {
	configured, path, err := check()
	out := protocol.ToolConfigStatusPayload{Configured: configured, Path: path}
	if err != nil {
		out.Ack = protocol.Ack{OK: false, Error: err.Error()}
		return out
	}
	out.Ack = protocol.Ack{OK: true}
	return out
}

// PruneTick drops long-ended sessions; the daemon calls this on a timer.
func (r *Router) PruneTick() {
	pruned := r.reg.PruneEnded(registry.DefaultPruneAge)
	for _, id := range pruned {
		r.bufs.Drop(id)
		r.images.DropSession(id)
		r.mu.Lock()
		delete(r.sessionLocks, id)
		delete(r.chatTargets, id)
		delete(r.pendingReply, id)
		r.mu.Unlock()
	}
	if len(pruned) > 0 {
		r.log.Debug("pruned ended sessions", "count", len(pruned))
	}

	// Sweep for bot connections that outlived their last bound session.
	doc := r.cfg.Snapshot()
	for _, b := range doc.Bots.Interactive {
		if _, ok := r.conns.Client(b.ID); ok && r.reg.CountActiveByBot(b.ID) == 0 {
			r.conns.StopInteractive(b.ID)
		}
	}
}
