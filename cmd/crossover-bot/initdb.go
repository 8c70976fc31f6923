package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

func newInitDBCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the schema and seed the active strategy and symbol config",
		Long: `Create the database schema and, unless active rows already exist, seed
user_config from the strategy section and symbol_config from the symbols list.
--force replaces the active rows with the file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st storage.Store) error {
				return seedConfig(cmd, st, cfg, force)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace existing active config rows")
	return cmd
}

func seedConfig(cmd *cobra.Command, st storage.Store, cfg *config.BotConfig, force bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	_, err := st.ActiveUserConfig(ctx)
	switch {
	case err == nil && !force:
		fmt.Fprintln(out, "user_config: active row kept")
	case err == nil || errors.Is(err, storage.ErrNotFound):
		s := cfg.Strategy
		id, err := st.UpsertUserConfig(ctx, &storage.UserConfig{
			AIPersona:          cfg.AI.Persona,
			FastWindow:         s.FastWindow,
			SlowWindow:         s.SlowWindow,
			ConfirmationWindow: s.ConfirmationWindow,
			ATRWindow:          s.ATRWindow,
			ATRMultiplier:      s.ATRMultiplier,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "user_config: seeded row %d (persona %s)\n", id, cfg.AI.Persona)
	default:
		return err
	}

	active, err := st.ActiveSymbolConfigs(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 && !force {
		fmt.Fprintf(out, "symbol_config: %d active rows kept\n", len(active))
		return nil
	}
	for _, sym := range cfg.Symbols {
		if _, err := st.UpsertSymbolConfig(ctx, &storage.SymbolConfig{
			Symbol:        sym.Symbol,
			MaxAllocation: sym.MaxAllocation,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", sym.Symbol, err)
		}
		fmt.Fprintf(out, "symbol_config: %s capped at %.2f%%\n", sym.Symbol, sym.MaxAllocation)
	}
	return nil
}
