package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage/sqlite"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
}

// load reads the env file, then the config file. Without --config the
// defaults plus environment are used.
func (o *rootOptions) load() (*config.BotConfig, error) {
	if _, err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}

	var (
		cfg *config.BotConfig
		err error
	)
	if o.configFile == "" {
		cfg = config.Default()
	} else if cfg, err = config.LoadConfig(o.configFile); err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "crossover-bot",
		Short: "EMA crossover spot trading bot",
		Long: `crossover-bot watches EMA crossovers on a fast and a confirmation timeframe,
asks an LLM advisor whether to act, buys within each symbol's allocation cap
and protects every position with a ratcheting stop.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Configuration file (name in configs/ or path)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Environment file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newInitDBCmd(opts))
	rootCmd.AddCommand(newCancelStopCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// withStore runs fn against the configured database
func withStore(ctx context.Context, cfg *config.BotConfig, fn func(storage.Store) error) error {
	opener := sqlite.NewOpener(cfg.Storage.DBPath)
	if err := storage.With(ctx, opener, fn); err != nil {
		return fmt.Errorf("database %s: %w", cfg.Storage.DBPath, err)
	}
	return nil
}
