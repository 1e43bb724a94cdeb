// Package host wraps one AI CLI process for the bridge: it mirrors the
// user's terminal through a PTY, streams output to the daemon, injects chat
// input, and (for supported tools) interposes the API proxy.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/internal/proxy"
	"github.com/zqq-nuli/felay/internal/sse"
	"github.com/zqq-nuli/felay/pkg/protocol"
)

// daemonStartTimeout bounds the wait for an auto-started daemon.
const daemonStartTimeout = 5 * time.Second

// Options configures one wrapped session.
type Options struct {
	// Dir overrides the app directory; empty resolves ~/.felay.
	Dir string
	// Command is the tool argv, command first.
	Command []string
	// NoProxy disables API interception even for supported tools.
	NoProxy bool
	Log     *slog.Logger
}

// Run wraps the tool process and blocks until it exits, returning the
// tool's exit code.
func Run(ctx context.Context, opts Options) (int, error) {
	if len(opts.Command) == 0 {
		return 1, fmt.Errorf("no command to wrap")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	var paths config.Paths
	var err error
	if opts.Dir != "" {
		paths = config.PathsIn(opts.Dir)
	} else {
		paths, err = config.DefaultPaths()
		if err != nil {
			return 1, err
		}
	}

	client, err := connectDaemon(ctx, opts.Dir, paths.SocketPath, log)
	if err != nil {
		return 1, err
	}
	defer client.Close()

	sessionID := uuid.NewString()
	tool := proxy.ToolIdentity(opts.Command[0])
	proxyMode := !opts.NoProxy && (tool == proxy.ToolClaude || tool == proxy.ToolCodex)

	cwd, err := os.Getwd()
	if err != nil {
		return 1, err
	}
	if err := client.Send(protocol.TypeRegisterSession, protocol.RegisterSessionPayload{
		SessionID: sessionID,
		CLI:       opts.Command[0],
		Cwd:       cwd,
		ProxyMode: proxyMode,
	}); err != nil {
		return 1, fmt.Errorf("register session: %w", err)
	}

	env := os.Environ()
	if proxyMode {
		closeProxy, redirected, perr := startProxy(sessionID, tool, env, paths.Dir, client, log)
		if perr != nil {
			// The terminal fallback still works without the proxy.
			log.Warn("api proxy unavailable, falling back to terminal capture", "error", perr)
		} else {
			env = redirected
			defer closeProxy()
		}
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = env
	ts, err := startTerminal(cmd)
	if err != nil {
		return 1, fmt.Errorf("start %s: %w", tool, err)
	}

	go func() {
		client.Listen(func(msg *protocol.Message) {
			if msg.Type != protocol.TypeFeishuInput {
				return
			}
			var p protocol.FeishuInputPayload
			if err := msg.Into(&p); err != nil || p.SessionID != sessionID {
				return
			}
			injectInput(ts, p)
		})
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := ts.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				os.Stdout.Write(chunk)
				if serr := client.Send(protocol.TypePtyOutput, protocol.PtyOutputPayload{
					SessionID: sessionID,
					Data:      string(chunk),
				}); serr != nil {
					log.Debug("pty frame dropped", "error", serr)
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				ts.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
		}
	}()

	waitErr := ts.Wait()
	ts.Close()

	client.Send(protocol.TypeSessionEnded, protocol.SessionEndedPayload{SessionID: sessionID})

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if waitErr != nil {
		return 1, waitErr
	}
	return 0, nil
}

// connectDaemon dials the endpoint, auto-starting the daemon on first use.
func connectDaemon(ctx context.Context, dir, socketPath string, log *slog.Logger) (*ipc.Client, error) {
	if c, err := ipc.Connect(ctx, socketPath); err == nil {
		return c, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	args := []string{"daemon"}
	if dir != "" {
		args = append(args, "--dir", dir)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	cmd.Process.Release()
	log.Info("daemon started", "pid", cmd.Process.Pid)

	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		if c, err := ipc.Connect(ctx, socketPath); err == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("daemon did not come up within %s", daemonStartTimeout)
}

// startProxy brings up the loopback interceptor and returns the redirected
// environment for the tool process.
func startProxy(sessionID, tool string, env []string, hookDir string, client *ipc.Client, log *slog.Logger) (func(), []string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	upstream := proxy.ResolveUpstream(tool, os.Getenv, home)

	px, err := proxy.New(upstream, proxy.ProviderFor(tool), func(msg sse.AssembledMessage, isSuggestion bool) {
		blocks := make([]protocol.ToolUseBlock, 0, len(msg.ToolUses))
		for _, tu := range msg.ToolUses {
			blocks = append(blocks, protocol.ToolUseBlock{Name: tu.Name, Input: tu.Input})
		}
		if serr := client.Send(protocol.TypeAPIProxyEvent, protocol.APIProxyEventPayload{
			SessionID:     sessionID,
			Provider:      msg.Provider,
			Model:         msg.Model,
			StopReason:    msg.StopReason,
			TextContent:   msg.TextContent,
			ToolUseBlocks: blocks,
			IsSuggestion:  isSuggestion,
			CompletedAt:   time.Now().UnixMilli(),
		}); serr != nil {
			log.Debug("api event dropped", "error", serr)
		}
	}, log)
	if err != nil {
		return nil, nil, err
	}

	origin, err := px.Start()
	if err != nil {
		return nil, nil, err
	}
	hookPath, err := proxy.WriteNodeHook(hookDir, upstream, origin)
	if err != nil {
		px.Close()
		return nil, nil, err
	}

	log.Info("api proxy interposed", "tool", tool, "upstream", upstream, "origin", origin)
	return func() { px.Close() }, proxy.RedirectEnv(tool, hookPath, origin, env), nil
}

// injectInput types one chat message into the tool's composer.
func injectInput(ts *terminalSession, p protocol.FeishuInputPayload) {
	ts.Write([]byte(composeInput(p.Text, p.Images)))
	ts.Write([]byte("\r"))

	// ConPTY occasionally swallows a CR while the tool repaints; spaced
	// retries only apply there.
	if runtime.GOOS == "windows" {
		for i := 1; i < p.EnterRetryCount; i++ {
			time.Sleep(time.Duration(p.EnterRetryInterval) * time.Millisecond)
			ts.Write([]byte("\r"))
		}
	}
}

// composeInput joins the message text with downloaded image paths; the tool
// reads images from local paths named in the prompt.
func composeInput(text string, images []string) string {
	text = strings.TrimRight(text, "\n")
	if len(images) == 0 {
		return text
	}
	parts := make([]string, 0, 1+len(images))
	if text != "" {
		parts = append(parts, text)
	}
	parts = append(parts, images...)
	return strings.Join(parts, " ")
}
