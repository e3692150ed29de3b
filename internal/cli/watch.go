package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/config"
	"github.com/roach88/tabsync/internal/coordinator"
	"github.com/roach88/tabsync/internal/event"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the shared store and print dispatched events",
		Long: `Bind a coordinator to the configured shared store and print every event
it dispatches until interrupted. Own events are filtered per the
sync.ignore_own setting.

Example:
  tabsync watch
  tabsync watch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	out := newFormatter(cmd, opts)

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

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open shared store", err)
	}
	defer store.Close()

	handler := func(e event.Event) error {
		if opts.Format == "json" {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(e)
		}
		at := time.UnixMilli(e.TimestampMs).UTC().Format(time.RFC3339Nano)
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s origin_id=%s data=%v\n", at, e.Type, e.OriginID, e.Data)
		return err
	}

	coord, err := coordinator.New(store, handler,
		coordinator.WithKey(cfg.Store.Key),
		coordinator.WithDebounce(cfg.Sync.Debounce()),
		coordinator.WithHeartbeatInterval(cfg.Sync.Heartbeat()),
		coordinator.WithIgnoreOwnEvents(cfg.Sync.IgnoreOwn),
		coordinator.WithOrigin(cfg.Sync.Origin),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}

	if err := coord.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start coordinator", err)
	}
	defer coord.Close()

	out.VerboseLog("watching key %s as origin_id %s", cfg.Store.Key, coord.OriginID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}
	return nil
}
