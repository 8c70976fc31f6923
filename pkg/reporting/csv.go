package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

var journalHeader = []string{
	"Entry_Order", "Symbol", "Status", "Signal_ID", "AI_Decision_ID",
	"Entry_Price", "Quantity", "Initial_Stop", "Amended_Stop", "Stop_Order",
	"Exit_Price", "Exit_Quantity", "PnL", "PnL_%", "Fees", "Net_PnL",
	"Opened_At", "Closed_At",
}

// WriteJournal writes trades to path. An .xlsx suffix selects the workbook
// format, anything else is CSV.
func WriteJournal(trades []storage.Trade, feeRate float64, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteJournalXLSX(trades, feeRate, path)
	}
	return WriteJournalCSV(trades, feeRate, path)
}

// WriteJournalCSV writes one row per trade
func WriteJournalCSV(trades []storage.Trade, feeRate float64, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(journalHeader); err != nil {
		return err
	}

	entries, _ := Summarize(trades, feeRate)
	for _, e := range entries {
		if err := w.Write(journalRecord(e)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func journalRecord(e JournalEntry) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		e.EntryOrderID,
		e.Symbol,
		string(e.OrderStatus),
		strconv.FormatInt(e.SignalID, 10),
		strconv.FormatInt(e.AIDecisionID, 10),
		f(e.Entry()),
		f(e.Size()),
		f(e.InitialStopLoss),
		f(e.AmendedStopLoss),
		e.ExitAlgoID,
		f(e.ExitFillPrice),
		f(e.ExitFillQuantity),
		f(e.PnL),
		f(e.PnLPct * 100),
		f(e.Fees),
		f(e.NetPnL),
		formatTime(&e.OpenedAt),
		formatTime(e.ClosedAt),
	}
}
