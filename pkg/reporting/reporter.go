// Package reporting renders the trade journal for operators: a console
// status table and CSV/xlsx exports.
package reporting

import (
	"strings"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

// JournalEntry is a trade row with its realized result
type JournalEntry struct {
	storage.Trade
	Realized bool
	PnL      float64 // exit minus entry value, before fees
	PnLPct   float64 // fraction, 0.05 = 5%
	Fees     float64 // reference only, applied to both legs
	NetPnL   float64
}

// NewJournalEntry derives the result of t. Only closed trades with both
// fills are realized.
func NewJournalEntry(t storage.Trade, feeRate float64) JournalEntry {
	e := JournalEntry{Trade: t}
	if t.OrderStatus != storage.StatusClosed || t.EntryFillPrice <= 0 || t.ExitFillQuantity <= 0 {
		return e
	}
	qty := t.ExitFillQuantity
	e.Realized = true
	e.PnL = (t.ExitFillPrice - t.EntryFillPrice) * qty
	e.PnLPct = t.ExitFillPrice/t.EntryFillPrice - 1
	e.Fees = feeRate * (t.EntryFillPrice + t.ExitFillPrice) * qty
	e.NetPnL = e.PnL - e.Fees
	return e
}

// Entry is the fill price once known, else the submitted price
func (e JournalEntry) Entry() float64 {
	if e.EntryFillPrice > 0 {
		return e.EntryFillPrice
	}
	return e.Trade.EntryPrice
}

// Size is the filled quantity once known, else the submitted one
func (e JournalEntry) Size() float64 {
	if e.EntryFillQuantity > 0 {
		return e.EntryFillQuantity
	}
	return e.Trade.Quantity
}

// Stop is the latest trigger the bot knows about
func (e JournalEntry) Stop() float64 {
	if e.AmendedStopLoss > 0 {
		return e.AmendedStopLoss
	}
	return e.InitialStopLoss
}

// Summary aggregates a journal
type Summary struct {
	Trades   int
	Open     int
	Closed   int
	Canceled int
	Wins     int
	Losses   int
	GrossPnL float64
	Fees     float64
	NetPnL   float64
	FeeRate  float64
}

// WinRate is the share of realized trades with a positive net result
func (s Summary) WinRate() float64 {
	if n := s.Wins + s.Losses; n > 0 {
		return float64(s.Wins) / float64(n)
	}
	return 0
}

// Summarize builds journal entries in input order and their totals
func Summarize(trades []storage.Trade, feeRate float64) ([]JournalEntry, Summary) {
	entries := make([]JournalEntry, 0, len(trades))
	sum := Summary{Trades: len(trades), FeeRate: feeRate}

	for _, t := range trades {
		e := NewJournalEntry(t, feeRate)
		entries = append(entries, e)

		switch t.OrderStatus {
		case storage.StatusClosed:
			sum.Closed++
		case storage.StatusCanceledBuy:
			sum.Canceled++
		default:
			sum.Open++
		}
		if !e.Realized {
			continue
		}
		sum.GrossPnL += e.PnL
		sum.Fees += e.Fees
		sum.NetPnL += e.NetPnL
		if e.NetPnL > 0 {
			sum.Wins++
		} else {
			sum.Losses++
		}
	}
	return entries, sum
}

// OpenTrades filters out closed and canceled rows
func OpenTrades(trades []storage.Trade) []storage.Trade {
	var open []storage.Trade
	for _, t := range trades {
		if !t.OrderStatus.IsTerminal() {
			open = append(open, t)
		}
	}
	return open
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}

func statusLabel(s storage.OrderStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
