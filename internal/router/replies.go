package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zqq-nuli/felay/internal/feishu"
	"github.com/zqq-nuli/felay/internal/registry"
	"github.com/zqq-nuli/felay/internal/richtext"
	"github.com/zqq-nuli/felay/internal/term"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// lightweightModelMarker filters out background calls made with the cheap
// model; they are never user-facing replies.
const lightweightModelMarker = "haiku"

// toolArgPreference orders the argument keys worth surfacing in a tool-use
// push line; first present wins.
var toolArgPreference = []string{"command", "file_path", "pattern", "query", "workdir"}

// onInteractiveFlush is the silence-timer path: the lossy terminal fallback
// for CLIs without hooks or proxy.
func (r *Router) onInteractiveFlush(sessionID, raw string) {
	s, ok := r.reg.Get(sessionID)
	if !ok || s.InteractiveBotID == "" {
		return
	}
	text := term.ExtractResponse(term.RenderText(raw))
	if strings.TrimSpace(text) == "" {
		return
	}
	r.sendInteractiveReply(context.Background(), sessionID, s.InteractiveBotID, text)
}

// onPushFlush is the merge-window path for push bots.
func (r *Router) onPushFlush(sessionID, raw string) {
	s, ok := r.reg.Get(sessionID)
	if !ok || s.PushBotID == "" || !s.PushEnabled {
		return
	}
	text := strings.TrimSpace(term.StripEscapes(raw))
	if text == "" {
		return
	}
	r.sendPushText(context.Background(), sessionID, s.PushBotID, text)
}

// sendInteractiveReply posts one reply to the session's chat and clears the
// pending-reply state.
func (r *Router) sendInteractiveReply(ctx context.Context, sessionID, botID, markdown string) {
	r.mu.Lock()
	target, hasTarget := r.chatTargets[sessionID]
	pendingMsg := r.pendingReply[sessionID]
	delete(r.pendingReply, sessionID)
	r.mu.Unlock()

	if !hasTarget || target.botID != botID {
		r.log.Debug("no chat target for reply", "session", sessionID)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	post := richtext.ConvertFull("", markdown)
	if _, err := r.conns.SendPost(sctx, botID, target.chatID, post); err != nil {
		r.log.Warn("interactive reply send failed", "session", sessionID, "error", err)
		return
	}
	if pendingMsg != "" {
		r.removeAckReaction(sctx, botID, pendingMsg)
	}
}

// sendPushText posts coalesced text to the push webhook; a rate-limit
// response widens the session's merge window instead of retrying.
func (r *Router) sendPushText(ctx context.Context, sessionID, botID, text string) {
	bot, ok := r.cfg.FindPushBot(botID)
	if !ok {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := r.conns.SendWebhookPost(sctx, bot, richtext.ConvertBasic("", text))
	switch {
	case errors.Is(err, feishu.ErrRateLimited):
		window := r.bufs.IncreaseMergeWindow(sessionID)
		r.log.Warn("push rate limited, widening merge window", "session", sessionID, "window", window)
	case err != nil:
		r.log.Warn("push send failed", "session", sessionID, "error", err)
	}
}

// handleAPIProxyEvent is reply source 1: assembled AI turns from the
// in-host proxy. Authoritative when present.
func (r *Router) handleAPIProxyEvent(ctx context.Context, msg *protocol.Message) {
	var p protocol.APIProxyEventPayload
	if err := msg.Into(&p); err != nil || p.SessionID == "" {
		return
	}
	s, ok := r.reg.Get(p.SessionID)
	if !ok || s.Status == registry.StatusEnded {
		return
	}

	ctx, span := r.tracer.Start(ctx, "router.api_event")
	defer span.End()

	if strings.Contains(strings.ToLower(p.Model), lightweightModelMarker) {
		return
	}
	if p.IsSuggestion {
		return
	}

	lock := r.sessionLock(p.SessionID)
	lock.Lock()
	defer lock.Unlock()

	switch p.StopReason {
	case "tool_use", "tool_calls":
		if s.PushBotID == "" || !s.PushEnabled {
			return
		}
		for _, block := range p.ToolUseBlocks {
			r.sendPushText(ctx, p.SessionID, s.PushBotID, formatToolUse(block))
		}
	default:
		if strings.TrimSpace(p.TextContent) == "" {
			return
		}
		if s.InteractiveBotID != "" {
			r.sendInteractiveReply(ctx, p.SessionID, s.InteractiveBotID, p.TextContent)
		}
		if s.PushBotID != "" && s.PushEnabled {
			r.sendPushText(ctx, p.SessionID, s.PushBotID, p.TextContent)
		}
	}
}

// handleNotify is reply source 2: completion hooks matched by cwd. Skipped
// when the session negotiated proxy mode, where source 1 is authoritative.
func (r *Router) handleNotify(ctx context.Context, msg *protocol.Message) {
	var p protocol.NotifyPayload
	if err := msg.Into(&p); err != nil || p.Cwd == "" || p.Message == "" {
		return
	}
	s, ok := r.reg.ActiveByCwd(p.Cwd)
	if !ok {
		r.log.Debug("hook notify with no matching session", "cwd", p.Cwd)
		return
	}
	if s.ProxyMode {
		return
	}

	lock := r.sessionLock(s.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if s.InteractiveBotID != "" {
		r.sendInteractiveReply(ctx, s.SessionID, s.InteractiveBotID, p.Message)
	}
	if s.PushBotID != "" && s.PushEnabled {
		r.sendPushText(ctx, s.SessionID, s.PushBotID, p.Message)
	}
}

// formatToolUse renders one tool invocation for the push feed.
func formatToolUse(block protocol.ToolUseBlock) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(block.Input), &args); err == nil {
		for _, key := range toolArgPreference {
			if v, ok := args[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return fmt.Sprintf("tool `%s`: %s", block.Name, s)
				}
			}
		}
	}
	raw := block.Input
	if len(raw) > 200 {
		raw = raw[:200] + "…"
	}
	return fmt.Sprintf("tool `%s`: %s", block.Name, raw)
}

// OnChatMessage is the connector's inbound callback: one user message on an
// interactive bot.
func (r *Router) OnChatMessage(botID string, ev *feishu.MessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "router.inbound")
	defer span.End()

	m := ev.Event.Message

	// Acknowledge receipt before anything else.
	doc := r.cfg.Snapshot()
	if doc.AckReaction != "" {
		if err := r.conns.AddReaction(ctx, botID, m.MessageID, doc.AckReaction); err != nil {
			r.log.Debug("ack reaction failed", "message", m.MessageID, "error", err)
		}
	}

	s, ok := r.reg.ActiveByInteractiveBot(botID)
	if !ok {
		sctx, scancel := context.WithTimeout(context.Background(), sendTimeout)
		r.conns.SendCard(sctx, botID, m.ChatID, feishu.NoSessionCard())
		scancel()
		return
	}

	text, imagePaths := r.extractContent(ctx, botID, s.SessionID, m.MessageID, m.MessageType, m.Content)
	if text == "" && len(imagePaths) == 0 {
		return
	}

	lock := r.sessionLock(s.SessionID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if _, ok := r.chatTargets[s.SessionID]; !ok {
		r.chatTargets[s.SessionID] = chatTarget{botID: botID, chatID: m.ChatID}
	}
	_, pending := r.pendingReply[s.SessionID]
	r.pendingReply[s.SessionID] = m.MessageID
	conn := r.socketOf[s.SessionID]
	r.mu.Unlock()

	if conn == nil {
		r.log.Warn("session has no live socket", "session", s.SessionID)
		return
	}

	payload := protocol.FeishuInputPayload{
		SessionID:          s.SessionID,
		Text:               text + "\n",
		EnterRetryCount:    doc.Input.EnterRetryCount,
		EnterRetryInterval: doc.Input.EnterRetryInterval,
		Images:             imagePaths,
	}
	if err := conn.Send(protocol.TypeFeishuInput, payload); err != nil {
		r.log.Warn("feishu_input delivery failed", "session", s.SessionID, "error", err)
		return
	}

	// Arm the reply collection unless the previous turn is still being
	// gathered; restarting would clobber its text.
	if !pending {
		r.bufs.StartCollecting(s.SessionID)
	}
}

// extractContent pulls plain text and downloads attached images. Message
// types other than text/image are ignored.
func (r *Router) extractContent(ctx context.Context, botID, sessionID, messageID, messageType, content string) (string, []string) {
	switch messageType {
	case "text":
		var c struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &c); err != nil {
			return "", nil
		}
		return strings.TrimSpace(c.Text), nil

	case "image":
		var c struct {
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(content), &c); err != nil || c.ImageKey == "" {
			return "", nil
		}
		path, ok := r.downloadImage(ctx, botID, sessionID, messageID, c.ImageKey)
		if !ok {
			return "", nil
		}
		return "", []string{path}

	default:
		return "", nil
	}
}

func (r *Router) downloadImage(ctx context.Context, botID, sessionID, messageID, imageKey string) (string, bool) {
	client, ok := r.conns.Client(botID)
	if !ok {
		return "", false
	}
	data, err := client.DownloadMessageImage(ctx, messageID, imageKey)
	if err != nil {
		r.log.Warn("image download failed", "message", messageID, "error", err)
		return "", false
	}
	path, err := r.images.Save(sessionID, data)
	if err != nil {
		r.log.Warn("image store failed", "session", sessionID, "error", err)
		return "", false
	}
	return path, true
}
