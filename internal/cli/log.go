package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/audit"
	"github.com/roach88/tabsync/internal/config"
)

type logOptions struct {
	limit       int
	origin      string
	transitions bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	logOpts := &logOptions{}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recorded sync events from the audit log",
		Long: `Query the SQLite audit log written by a running tabsync serve process.
By default the most recent sync events are shown, newest first.

Example:
  tabsync log
  tabsync log --limit 100 --origin 0197a2b4-...
  tabsync log --transitions --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(rootOpts, logOpts, cmd)
		},
	}

	cmd.Flags().IntVar(&logOpts.limit, "limit", 50, "maximum number of rows to show")
	cmd.Flags().StringVar(&logOpts.origin, "origin", "", "only show events from this origin_id")
	cmd.Flags().BoolVar(&logOpts.transitions, "transitions", false, "show session transitions instead of sync events")

	return cmd
}

func runLog(opts *RootOptions, logOpts *logOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	out := newFormatter(cmd, opts)

	if logOpts.limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}
	if logOpts.transitions && logOpts.origin != "" {
		return NewExitError(ExitCommandError, "--transitions and --origin cannot be combined")
	}

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

	out.VerboseLog("reading audit log %s", cfg.Audit.Path)

	if logOpts.transitions {
		transitions, err := recorder.Transitions(ctx, logOpts.limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to query transitions", err)
		}
		return printTransitions(out, transitions)
	}

	var events []audit.RecordedEvent
	if logOpts.origin != "" {
		events, err = recorder.EventsByOrigin(ctx, logOpts.origin, logOpts.limit)
	} else {
		events, err = recorder.RecentEvents(ctx, logOpts.limit)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query events", err)
	}
	return printEvents(out, events)
}

type eventRow struct {
	ID         int64  `json:"id"`
	Direction  string `json:"direction"`
	Type       string `json:"type"`
	OriginID   string `json:"origin_id"`
	Origin     string `json:"origin,omitempty"`
	Timestamp  int64  `json:"ts_ms"`
	Data       string `json:"data,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func printEvents(out *OutputFormatter, events []audit.RecordedEvent) error {
	if out.Format == "json" {
		rows := make([]eventRow, 0, len(events))
		for _, e := range events {
			rows = append(rows, eventRow{
				ID:         e.ID,
				Direction:  e.Direction,
				Type:       string(e.Type),
				OriginID:   e.OriginID,
				Origin:     e.Origin,
				Timestamp:  e.TimestampMs,
				Data:       e.Data,
				Reason:     e.Reason,
				RecordedAt: e.RecordedAt.Format(time.RFC3339Nano),
			})
		}
		return out.Success(rows)
	}

	if len(events) == 0 {
		return out.Success("no events recorded")
	}
	for _, e := range events {
		line := fmt.Sprintf("%s %-10s %s origin_id=%s",
			e.RecordedAt.Format(time.RFC3339), e.Direction, e.Type, e.OriginID)
		if e.Data != "" {
			line += " data=" + e.Data
		}
		if e.Reason != "" {
			line += fmt.Sprintf(" reason=%q", e.Reason)
		}
		if err := out.Success(line); err != nil {
			return err
		}
	}
	return nil
}

type transitionRow struct {
	ID         int64  `json:"id"`
	Op         string `json:"op"`
	Outcome    string `json:"outcome"`
	UserID     string `json:"user_id,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func printTransitions(out *OutputFormatter, transitions []audit.Transition) error {
	if out.Format == "json" {
		rows := make([]transitionRow, 0, len(transitions))
		for _, t := range transitions {
			rows = append(rows, transitionRow{
				ID:         t.ID,
				Op:         t.Op,
				Outcome:    t.Outcome,
				UserID:     t.UserID,
				RecordedAt: t.RecordedAt.Format(time.RFC3339Nano),
			})
		}
		return out.Success(rows)
	}

	if len(transitions) == 0 {
		return out.Success("no transitions recorded")
	}
	for _, t := range transitions {
		line := fmt.Sprintf("%s %-8s %-7s", t.RecordedAt.Format(time.RFC3339), t.Op, t.Outcome)
		if t.UserID != "" {
			line += " user_id=" + t.UserID
		}
		if err := out.Success(line); err != nil {
			return err
		}
	}
	return nil
}
