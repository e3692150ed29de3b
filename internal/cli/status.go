package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/audit"
	"github.com/roach88/tabsync/internal/config"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show execution contexts recently active on the shared store",
		Long: `Estimate which execution contexts are alive by reading the audit log.
An origin counts as active when it recorded any event within the last two
heartbeat intervals. Heartbeats are recorded, so an idle but running
context still shows up.

Example:
  tabsync status
  tabsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

type originStatus struct {
	OriginID   string `json:"origin_id"`
	EventCount int64  `json:"event_count"`
	LastSeen   string `json:"last_seen"`
}

type statusReport struct {
	ActiveOrigins []originStatus `json:"active_origins"`
	Since         string         `json:"since"`
	Window        string         `json:"window"`
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	out := newFormatter(cmd, opts)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	recorder, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit log", err)
	}
	defer recorder.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	window := 2 * cfg.Sync.Heartbeat()
	since := time.Now().Add(-window)
	out.VerboseLog("counting origins active since %s", since.UTC().Format(time.RFC3339))

	origins, err := recorder.ActiveOrigins(ctx, since)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query active origins", err)
	}

	if opts.Format == "json" {
		report := statusReport{
			ActiveOrigins: make([]originStatus, 0, len(origins)),
			Since:         since.UTC().Format(time.RFC3339Nano),
			Window:        window.String(),
		}
		for _, o := range origins {
			report.ActiveOrigins = append(report.ActiveOrigins, originStatus{
				OriginID:   o.OriginID,
				EventCount: o.EventCount,
				LastSeen:   o.LastSeen.Format(time.RFC3339Nano),
			})
		}
		return out.Success(report)
	}

	if len(origins) == 0 {
		return out.Success(fmt.Sprintf("no origins active in the last %s", window))
	}
	if err := out.Success(fmt.Sprintf("%d origin(s) active in the last %s:", len(origins), window)); err != nil {
		return err
	}
	for _, o := range origins {
		line := fmt.Sprintf("  %s last_seen=%s events=%d",
			o.OriginID, o.LastSeen.Format(time.RFC3339), o.EventCount)
		if err := out.Success(line); err != nil {
			return err
		}
	}
	return nil
}
