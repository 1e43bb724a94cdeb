// Package daemon assembles the bridge process: secret and config stores,
// session registry, chat connections, router, and the local IPC endpoint.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zqq-nuli/felay/internal/config"
	"github.com/zqq-nuli/felay/internal/connector"
	"github.com/zqq-nuli/felay/internal/feishu"
	"github.com/zqq-nuli/felay/internal/ipc"
	"github.com/zqq-nuli/felay/internal/media"
	"github.com/zqq-nuli/felay/internal/registry"
	"github.com/zqq-nuli/felay/internal/router"
	"github.com/zqq-nuli/felay/internal/secret"
	"github.com/zqq-nuli/felay/internal/telemetry"
	"github.com/zqq-nuli/felay/internal/toolcfg"
)

// pruneInterval drives the ended-session sweep.
const pruneInterval = 5 * time.Minute

// Options configures a daemon run.
type Options struct {
	// Dir overrides the app directory; empty resolves ~/.felay.
	Dir     string
	Version string
	Log     *slog.Logger
}

// ErrAlreadyRunning means a live daemon holds the lock file.
var ErrAlreadyRunning = fmt.Errorf("daemon already running")

func (o Options) resolve() (config.Paths, error) {
	if o.Dir != "" {
		return config.PathsIn(o.Dir), nil
	}
	return config.DefaultPaths()
}

// Run starts the daemon and blocks until a stop request or a termination
// signal, then drains and exits.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	paths, err := opts.resolve()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return fmt.Errorf("app dir: %w", err)
	}

	cleared, err := ipc.ClearStale(paths.LockPath, paths.SocketPath)
	if err != nil {
		return err
	}
	if !cleared {
		return ErrAlreadyRunning
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	flushTraces, err := telemetry.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
		flushTraces(fctx)
		fcancel()
	}()

	secrets, err := secret.Open(paths.KeyPath)
	if err != nil {
		return err
	}
	cfg, err := config.Open(paths.ConfigPath, secrets)
	if err != nil {
		return err
	}

	images := media.NewStore(paths.ImagesDir)
	images.WipeAll()

	reg := registry.New()

	// The connector and the router reference each other; the inbound
	// handler closes over the router variable assigned below.
	var rtr *router.Router
	conns := connector.NewManager(cfg.Snapshot().Reconnect, func(botID string, ev *feishu.MessageEvent) {
		if rtr != nil {
			rtr.OnChatMessage(botID, ev)
		}
	}, log)

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	rtr = router.New(router.Options{
		Config:    cfg,
		Registry:  reg,
		Connector: conns,
		Images:    images,
		Tools:     toolcfg.New(home, ""),
		Log:       log,
		Version:   opts.Version,
		Shutdown:  cancel,
	})

	conns.Start(ctx)
	defer conns.Stop()

	if err := config.Watch(ctx, cfg, rtr.ApplyReloadedSettings); err != nil {
		log.Warn("config watcher unavailable", "error", err)
	}

	ln, err := ipc.Listen(paths.SocketPath)
	if err != nil {
		return fmt.Errorf("ipc listen: %w", err)
	}
	if err := ipc.WriteLock(paths.LockPath, paths.SocketPath); err != nil {
		ln.Close()
		return err
	}
	defer func() {
		ipc.RemoveLock(paths.LockPath)
		ipc.RemoveEndpoint(paths.SocketPath)
	}()

	srv := ipc.NewServer(rtr, log)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rtr.PruneTick()
			}
		}
	}()

	log.Info("daemon listening", "endpoint", paths.SocketPath, "pid", os.Getpid(), "version", opts.Version)
	err = srv.Serve(ctx, ln)
	log.Info("daemon stopped")
	return err
}
