package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

// WriteStatus renders the open trades and the journal summary to w
func WriteStatus(w io.Writer, trades []storage.Trade, feeRate float64) {
	writeOpenTrades(w, OpenTrades(trades), feeRate)
	fmt.Fprintln(w)

	_, sum := Summarize(trades, feeRate)
	writeSummary(w, sum)
}

func writeOpenTrades(w io.Writer, open []storage.Trade, feeRate float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("OPEN TRADES")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Entry Order", "Symbol", "Status", "Entry", "Qty", "Stop", "Stop Order", "Opened"})
	for _, tr := range open {
		e := NewJournalEntry(tr, feeRate)
		t.AppendRow(table.Row{
			shortID(tr.EntryOrderID),
			tr.Symbol,
			statusLabel(tr.OrderStatus),
			fmt.Sprintf("%.4f", e.Entry()),
			fmt.Sprintf("%.6f", e.Size()),
			fmt.Sprintf("%.4f", e.Stop()),
			shortID(tr.ExitAlgoID),
			formatTime(&tr.OpenedAt),
		})
	}
	if len(open) == 0 {
		t.AppendRow(table.Row{"none"})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}

func writeSummary(w io.Writer, sum Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("JOURNAL")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Trades", sum.Trades},
		{"Open", sum.Open},
		{"Closed", sum.Closed},
		{"Canceled", sum.Canceled},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Win Rate", fmt.Sprintf("%.1f%% (%d/%d)", sum.WinRate()*100, sum.Wins, sum.Wins+sum.Losses)},
		{"Gross PnL", fmt.Sprintf("%.2f", sum.GrossPnL)},
		{"Fees (est.)", fmt.Sprintf("%.2f", sum.Fees)},
		{"Net PnL", fmt.Sprintf("%.2f", sum.NetPnL)},
		{"Fee Rate", fmt.Sprintf("%.2f%%", sum.FeeRate*100)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 18, Align: text.AlignRight},
	})
	t.Render()
}
