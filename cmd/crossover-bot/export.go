package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/reporting"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		out   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the trade journal to .xlsx or .csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if out == "" {
				out = reporting.DefaultJournalPath(time.Now())
			}

			var trades []storage.Trade
			err = withStore(cmd.Context(), cfg, func(st storage.Store) error {
				trades, err = st.ListTrades(cmd.Context(), limit)
				return err
			})
			if err != nil {
				return err
			}
			if err := reporting.WriteJournal(trades, cfg.Risk.FeeRate, out); err != nil {
				return fmt.Errorf("write journal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d trades to %s\n", len(trades), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output file, .xlsx or .csv (default results/trades_<date>.xlsx)")
	cmd.Flags().IntVar(&limit, "limit", 100000, "Number of most recent trades to export")
	return cmd
}
