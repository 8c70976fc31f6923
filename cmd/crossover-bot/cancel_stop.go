package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/adapters"
	"github.com/ducminhle1904/ema-crossover-bot/internal/logger"
)

func newCancelStopCmd(opts *rootOptions) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "cancel-stop ALGO_ID",
		Short: "Cancel a protective stop order on the exchange",
		Long: `Cancel a conditional stop by its order id, for manual reconciliation of
trades flagged for review. The trade row is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Options{Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			broker, err := adapters.NewBroker(cfg, log)
			if err != nil {
				return err
			}

			symbol = config.NormalizeSymbol(symbol)
			if err := broker.CancelAlgo(cmd.Context(), args[0], symbol); err != nil {
				return fmt.Errorf("cancel stop %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Canceled stop %s on %s\n", args[0], symbol)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol of the stop, e.g. BTCUSDT")
	cmd.MarkFlagRequired("symbol")
	return cmd
}
