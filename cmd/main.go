package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/yieldboard/internal/config"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const programName = "yieldboard"

var globalFlags = struct {
	configFile string
	debug      bool
}{}

// configKey carries the loaded configuration through the command context.
type configKey struct{}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(configKey{}).(*config.Config)
	return cfg
}

// loadConfig layers defaults, the config file and env vars, then sets up logging.
func loadConfig(cmd *cobra.Command, _ []string) error {
	path := globalFlags.configFile
	if path == "" {
		path = os.Getenv("YIELDBOARD_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
			logger.String("log_level", level),
			logger.Error(err),
		)
		_ = logger.SetLevelString("info")
	}

	cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               programName,
		Short:             "Staking ledger, contribution leaderboards and epoch reward payouts",
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to YAML config file (default $YIELDBOARD_CONFIG)")
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(runEpochCommand())
	rootCmd.AddCommand(redriveCommand())
	rootCmd.AddCommand(loadgenCommand())
	return rootCmd
}

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
