// Package router orchestrates everything the daemon does: it consumes
// validated IPC frames, keeps the socket↔session mapping, drives the
// per-session buffers, and fans assistant replies out to the bound bots.
//
// Per-session state (registry row, buffers, pending reply, chat target) is
// guarded by a sessionId-granularity lock; the registry's internal lock is
// never held across chat network I/O.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zqq-nuli/felay/internal/buffers"
	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/connector"
	"github.com/zqq-nuli/felay/internal/feishu"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/internal/media"
	"github.com/zqq-nuli/felay/internal/registry"
	"github.com/zqq-nuli/felay/internal/telemetry"
	"github.com/zqq-nuli/felay/internal/toolcfg"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// hookSet are the CLIs that ship their own completion hooks; their raw PTY
// output never feeds the reply path, only the summary.
var hookSet = map[string]bool{"claude": true, "codex": true}

// sendTimeout bounds one outbound chat call.
const sendTimeout = 30 * time.Second

// chatTarget is the persisted reply address of a session.
type chatTarget struct {
	botID  string
	chatID string
}

// Router implements ipc.Handler and owns all routing state.
type Router struct {
	log     *slog.Logger
	cfg     *config.Store
	reg     *registry.Registry
	bufs    *buffers.Manager
	conns   *connector.Manager
	images  *media.Store
	tools   *toolcfg.Manager
	tracer  trace.Tracer
	version string

	// shutdown is invoked on stop_request; the daemon wires it to its
	// cancel function.
	shutdown func()

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	socketOf     map[string]*ipc.Conn
	sessionsOf   map[*ipc.Conn]map[string]bool
	pendingReply map[string]string // sessionID → inbound message id awaiting a reply
	chatTargets  map[string]chatTarget
	startedAt    time.Time
}

// Options collects the router's collaborators.
type Options struct {
	Config    *config.Store
	Registry  *registry.Registry
	Connector *connector.Manager
	Images    *media.Store
	Tools     *toolcfg.Manager
	Log       *slog.Logger
	Version   string
	Shutdown  func()
}

// New builds the router and its buffer manager.
func New(opts Options) *Router {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	r := &Router{
		log:          opts.Log,
		cfg:          opts.Config,
		reg:          opts.Registry,
		conns:        opts.Connector,
		images:       opts.Images,
		tools:        opts.Tools,
		tracer:       telemetry.Tracer(),
		version:      opts.Version,
		shutdown:     opts.Shutdown,
		sessionLocks: make(map[string]*sync.Mutex),
		socketOf:     make(map[string]*ipc.Conn),
		sessionsOf:   make(map[*ipc.Conn]map[string]bool),
		pendingReply: make(map[string]string),
		chatTargets:  make(map[string]chatTarget),
		startedAt:    time.Now(),
	}

	doc := opts.Config.Snapshot()
	r.bufs = buffers.NewManager(buffers.Config{
		MergeWindow:     time.Duration(doc.Push.MergeWindowMs) * time.Millisecond,
		MaxMessageBytes: doc.Push.MaxMessageBytes,
	}, r.onInteractiveFlush, r.onPushFlush)
	return r
}

// Buffers exposes the buffer manager for config reload plumbing.
func (r *Router) Buffers() *buffers.Manager { return r.bufs }

// ApplyReloadedSettings pushes watcher-reloaded values into live components.
func (r *Router) ApplyReloadedSettings() {
	doc := r.cfg.Snapshot()
	r.bufs.SetMergeWindow(time.Duration(doc.Push.MergeWindowMs) * time.Millisecond)
	r.bufs.SetMaxMessageBytes(doc.Push.MaxMessageBytes)
	r.conns.UpdateReconnect(doc.Reconnect)
	r.log.Info("configuration reloaded")
}

func (r *Router) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.sessionLocks[sessionID] = l
	}
	return l
}

// HandleMessage dispatches one decoded frame. Unknown types are ignored.
func (r *Router) HandleMessage(ctx context.Context, conn *ipc.Conn, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRegisterSession:
		r.handleRegister(ctx, conn, msg)
	case protocol.TypePtyOutput:
		r.handlePtyOutput(msg)
	case protocol.TypeSessionEnded:
		r.handleSessionEnded(ctx, msg)
	case protocol.TypeAPIProxyEvent:
		r.handleAPIProxyEvent(ctx, msg)
	case protocol.TypeCodexNotify, protocol.TypeClaudeNotify:
		r.handleNotify(ctx, msg)
	default:
		r.handleControl(ctx, conn, msg)
	}
}

// HandleDisconnect treats a dropped CLI host as session_ended for every
// session registered on that socket.
func (r *Router) HandleDisconnect(conn *ipc.Conn) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessionsOf[conn]))
	for id := range r.sessionsOf[conn] {
		ids = append(ids, id)
	}
	delete(r.sessionsOf, conn)
	for _, id := range ids {
		if r.socketOf[id] == conn {
			delete(r.socketOf, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.log.Info("ipc client dropped, ending session", "session", id)
		r.endSession(context.Background(), id)
	}
}

func (r *Router) handleRegister(ctx context.Context, conn *ipc.Conn, msg *protocol.Message) {
	var p protocol.RegisterSessionPayload
	if err := msg.Into(&p); err != nil || p.SessionID == "" {
		return
	}

	prior, existed := r.reg.Get(p.SessionID)
	s := r.reg.Register(p.SessionID, p.CLI, p.Cwd, p.ProxyMode)

	r.mu.Lock()
	r.socketOf[p.SessionID] = conn
	if r.sessionsOf[conn] == nil {
		r.sessionsOf[conn] = make(map[string]bool)
	}
	r.sessionsOf[conn][p.SessionID] = true
	r.mu.Unlock()

	r.log.Info("session registered", "session", p.SessionID, "cli", p.CLI, "cwd", p.Cwd, "proxy", p.ProxyMode)

	// Auto-bind defaults only for genuinely new sessions; a re-register of
	// a live session keeps whatever bindings it already has.
	if existed && prior.Status != registry.StatusEnded {
		return
	}
	doc := r.cfg.Snapshot()
	if id := doc.Defaults.DefaultInteractiveBotID; id != "" && s.InteractiveBotID == "" {
		if bot, ok := r.cfg.FindInteractiveBot(id); ok {
			r.reg.BindInteractive(p.SessionID, id)
			r.conns.StartInteractive(ctx, bot)
		}
	}
	if id := doc.Defaults.DefaultPushBotID; id != "" && s.PushBotID == "" {
		if _, ok := r.cfg.FindPushBot(id); ok {
			r.reg.BindPush(p.SessionID, id, true)
		}
	}
}

func (r *Router) handlePtyOutput(msg *protocol.Message) {
	var p protocol.PtyOutputPayload
	if err := msg.Into(&p); err != nil || p.SessionID == "" {
		return
	}
	s, ok := r.reg.Get(p.SessionID)
	if !ok || s.Status == registry.StatusEnded {
		return
	}
	r.reg.TouchProxy(p.SessionID)

	lock := r.sessionLock(p.SessionID)
	lock.Lock()
	defer lock.Unlock()

	r.bufs.AppendSummary(p.SessionID, p.Data)
	if hookSet[normalizeCLI(s.CLI)] {
		return
	}
	if s.InteractiveBotID != "" {
		r.bufs.AppendInteractive(p.SessionID, p.Data)
	}
	if s.PushBotID != "" && s.PushEnabled {
		r.bufs.AppendPush(p.SessionID, p.Data)
	}
}

func (r *Router) handleSessionEnded(ctx context.Context, msg *protocol.Message) {
	var p protocol.SessionEndedPayload
	if err := msg.Into(&p); err != nil || p.SessionID == "" {
		return
	}
	r.endSession(ctx, p.SessionID)
}

// endSession finalizes a session: force-flush, summary card, reaction
// cleanup, then teardown.
func (r *Router) endSession(ctx context.Context, sessionID string) {
	s, ok := r.reg.Get(sessionID)
	if !ok {
		return
	}
	if !r.reg.End(sessionID) {
		return // already ended
	}

	ctx, span := r.tracer.Start(ctx, "session.end")
	defer span.End()

	// Pending interactive reply goes out as one final message.
	r.bufs.ForceFlushInteractive(sessionID)

	summary := r.bufs.Summary(sessionID)

	r.mu.Lock()
	target, hasTarget := r.chatTargets[sessionID]
	pendingMsg := r.pendingReply[sessionID]
	delete(r.chatTargets, sessionID)
	delete(r.pendingReply, sessionID)
	delete(r.socketOf, sessionID)
	delete(r.sessionLocks, sessionID)
	r.mu.Unlock()

	if hasTarget {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		card := feishu.TaskSummaryCard(s.CLI, s.Cwd, summary)
		if _, err := r.conns.SendCard(sctx, target.botID, target.chatID, card); err != nil {
			r.log.Warn("summary card send failed", "session", sessionID, "error", err)
		}
		if pendingMsg != "" {
			r.removeAckReaction(sctx, target.botID, pendingMsg)
		}
		cancel()
	}

	// The bot's event stream is shared; it stays up only while some active
	// session is still bound to it.
	if s.InteractiveBotID != "" && r.reg.CountActiveByBot(s.InteractiveBotID) == 0 {
		r.conns.StopInteractive(s.InteractiveBotID)
	}

	r.bufs.Drop(sessionID)
	r.images.DropSession(sessionID)
	r.log.Info("session ended", "session", sessionID)
}

func (r *Router) removeAckReaction(ctx context.Context, botID, messageID string) {
	doc := r.cfg.Snapshot()
	emoji := doc.AckReaction
	if emoji == "" {
		return
	}
	if err := r.conns.RemoveReaction(ctx, botID, messageID, emoji); err != nil {
		r.log.Debug("ack reaction cleanup failed", "message", messageID, "error", err)
	}
}

// normalizeCLI reduces an invoked command to its hook-set identity.
func normalizeCLI(cli string) string {
	name := strings.ToLower(cli)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
