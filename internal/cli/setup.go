package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tabsync/internal/channel"
	"github.com/roach88/tabsync/internal/config"
)

// setupLogging installs the process-wide slog handler: text to stderr,
// debug level when --verbose.
func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// newFormatter builds the output formatter for a command.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openStore constructs the shared event store named by the configuration.
func openStore(ctx context.Context, cfg config.StoreConfig) (channel.Store, error) {
	switch cfg.Backend {
	case "memory":
		return channel.NewMemoryStore(), nil
	case "redis":
		store, err := channel.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	case "dir":
		store, err := channel.NewDirStore(cfg.DirPath)
		if err != nil {
			return nil, fmt.Errorf("open shared directory %s: %w", cfg.DirPath, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
