package main

import (
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/reporting"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show open trades and the journal summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			var trades []storage.Trade
			err = withStore(cmd.Context(), cfg, func(st storage.Store) error {
				trades, err = st.ListTrades(cmd.Context(), limit)
				return err
			})
			if err != nil {
				return err
			}
			reporting.WriteStatus(cmd.OutOrStdout(), trades, cfg.Risk.FeeRate)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "Number of most recent trades to include")
	return cmd
}
