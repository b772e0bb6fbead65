// Sentinel - reputation scores for crypto assets
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/csking101/Sentinel-Protocol/internal/config"
	"github.com/csking101/Sentinel-Protocol/internal/logging"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var logLevel string

	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Score crypto assets on market stability, fundamentals and holder risk",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
			a.logger.Debug("configuration loaded",
				"env", cfg.Env,
				"assets", len(cfg.Assets),
				"chain_id", cfg.ChainID,
			)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newScoreCmd(a),
		newPublishCmd(a),
		newOnchainCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
	)
	return root
}
