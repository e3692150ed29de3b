package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/audit"
	"github.com/roach88/tabsync/internal/config"
	"github.com/roach88/tabsync/internal/coordinator"
	"github.com/roach88/tabsync/internal/event"
	"github.com/roach88/tabsync/internal/gateway"
	"github.com/roach88/tabsync/internal/identity"
	"github.com/roach88/tabsync/internal/session"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync coordinator and HTTP gateway",
		Long: `Run the full tabsync node: a coordinator bound to the configured shared
store, a session store backed by the mock identity provider, a SQLite audit
log, and the HTTP/WebSocket gateway.

Configuration comes from TABSYNC_CONFIG (or ~/.config/tabsync/config.toml)
with TABSYNC_* environment overrides.

Example:
  tabsync serve
  TABSYNC_STORE_BACKEND=redis tabsync serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	slog.Info("opening shared store", "backend", cfg.Store.Backend)
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open shared store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing shared store", "error", closeErr)
		}
	}()

	slog.Info("opening audit log", "path", cfg.Audit.Path)
	if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create audit directory", err)
	}
	recorder, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit log", err)
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			slog.Error("error closing audit log", "error", closeErr)
		}
	}()

	// The gateway needs the coordinator and the coordinator's handler
	// needs the gateway, so the handler resolves the server late.
	var srv *gateway.Server
	handler := func(e event.Event) error {
		if srv == nil {
			return nil
		}
		return srv.HandleEvent(e)
	}

	coord, err := coordinator.New(store, handler,
		coordinator.WithKey(cfg.Store.Key),
		coordinator.WithDebounce(cfg.Sync.Debounce()),
		coordinator.WithHeartbeatInterval(cfg.Sync.Heartbeat()),
		coordinator.WithIgnoreOwnEvents(cfg.Sync.IgnoreOwn),
		coordinator.WithOrigin(cfg.Sync.Origin),
		coordinator.WithAuditSink(recorder),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}

	sessions := session.New(identity.NewMockProvider(),
		session.WithBroadcaster(coord),
		session.WithTransitionSink(recorder),
		session.WithExpiryWarn(cfg.Session.ExpiryWarn()),
	)

	srv, err = gateway.New(gateway.Options{
		Addr:        cfg.Gateway.ListenAddr,
		Sessions:    sessions,
		Coordinator: coord,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create gateway", err)
	}

	if err := coord.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start coordinator", err)
	}
	defer coord.Close()
	slog.Info("coordinator started", "origin_id", coord.OriginID(), "key", cfg.Store.Key)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "gateway terminated", err)
	}
	slog.Info("shutdown complete")
	return nil
}
