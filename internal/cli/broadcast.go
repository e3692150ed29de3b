package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/channel"
	"github.com/roach88/tabsync/internal/config"
	"github.com/roach88/tabsync/internal/event"
)

// NewBroadcastCommand creates the broadcast command.
func NewBroadcastCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast TYPE [JSON]",
		Short: "Publish one event to the shared store",
		Long: `Publish a single event to the configured shared store and exit.
Other tabsync processes watching the same store receive it.

Example:
  tabsync broadcast cache_invalidate '{"key": "users"}'
  tabsync broadcast session_cleared`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(rootOpts, cmd, args)
		},
	}
	return cmd
}

func runBroadcast(opts *RootOptions, cmd *cobra.Command, args []string) error {
	setupLogging(opts.Verbose)
	out := newFormatter(cmd, opts)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	var data any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
			return WrapExitError(ExitCommandError, "event data is not valid JSON", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open shared store", err)
	}
	defer store.Close()

	broadcaster := channel.NewBroadcaster(store, channel.BroadcasterOptions{
		Key:    cfg.Store.Key,
		Origin: cfg.Sync.Origin,
	})
	defer broadcaster.Close()

	e, err := broadcaster.Publish(ctx, event.Type(args[0]), data)
	if err != nil {
		return WrapExitError(ExitFailure, "publish failed", err)
	}

	out.VerboseLog("published to key %s", cfg.Store.Key)
	if opts.Format == "json" {
		return out.Success(e)
	}
	return out.Success(fmt.Sprintf("published %s (origin_id=%s ts=%d)", e.Type, e.OriginID, e.TimestampMs))
}
