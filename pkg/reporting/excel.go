package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

// ExcelStyles holds workbook style ids
type ExcelStyles struct {
	HeaderStyle       int
	BaseStyle         int
	PriceStyle        int
	CurrencyStyle     int
	PercentStyle      int
	RedPercentStyle   int
	GreenPercentStyle int
	OpenStyle         int
}

// WriteJournalXLSX writes a Trades sheet with one row per trade and a Summary sheet
func WriteJournalXLSX(trades []storage.Trade, feeRate float64, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}

	entries, sum := Summarize(trades, feeRate)
	if err := writeTradesSheet(fx, entries, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, sum, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func lightBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"}, // Dark slate gray
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: lightBorder()})
	if err != nil {
		return styles, err
	}

	priceFmt := "#,##0.0000"
	styles.PriceStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &priceFmt,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4, // #,##0.00
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10, // 0.00%
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	styles.RedPercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	styles.GreenPercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	// Rows still waiting on a fill or a stop
	styles.OpenStyle, err = fx.NewStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"E6F3FF"}, // Light blue
			Pattern: 1,
		},
		Border: lightBorder(),
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

func setRow(fx *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return fx.SetSheetRow(sheet, cell, &values)
}

func styleRange(fx *excelize.File, sheet string, fromCol, toCol, row, style int) error {
	from, err := excelize.CoordinatesToCellName(fromCol, row)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(toCol, row)
	if err != nil {
		return err
	}
	return fx.SetCellStyle(sheet, from, to, style)
}

func writeTradesSheet(fx *excelize.File, entries []JournalEntry, styles ExcelStyles) error {
	headers := make([]interface{}, len(journalHeader))
	for i, h := range journalHeader {
		headers[i] = h
	}
	if err := setRow(fx, tradesSheet, 1, headers); err != nil {
		return err
	}
	if err := styleRange(fx, tradesSheet, 1, len(headers), 1, styles.HeaderStyle); err != nil {
		return err
	}

	for i, e := range entries {
		row := i + 2
		values := []interface{}{
			e.EntryOrderID,
			e.Symbol,
			string(e.OrderStatus),
			e.SignalID,
			e.AIDecisionID,
			e.Entry(),
			e.Size(),
			e.InitialStopLoss,
			e.AmendedStopLoss,
			e.ExitAlgoID,
			e.ExitFillPrice,
			e.ExitFillQuantity,
			e.PnL,
			e.PnLPct,
			e.Fees,
			e.NetPnL,
			formatTime(&e.OpenedAt),
			formatTime(e.ClosedAt),
		}
		if err := setRow(fx, tradesSheet, row, values); err != nil {
			return err
		}

		base := styles.BaseStyle
		if !e.OrderStatus.IsTerminal() {
			base = styles.OpenStyle
		}
		pct := styles.PercentStyle
		switch {
		case e.Realized && e.NetPnL > 0:
			pct = styles.GreenPercentStyle
		case e.Realized:
			pct = styles.RedPercentStyle
		}

		// A-E ids, F-L prices, M-P results, Q-R timestamps
		for _, s := range []struct{ from, to, style int }{
			{1, 5, base},
			{6, 12, styles.PriceStyle},
			{13, 13, styles.CurrencyStyle},
			{14, 14, pct},
			{15, 16, styles.CurrencyStyle},
			{17, 18, base},
		} {
			if err := styleRange(fx, tradesSheet, s.from, s.to, row, s.style); err != nil {
				return err
			}
		}
	}

	if err := fx.SetColWidth(tradesSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := fx.SetColWidth(tradesSheet, "B", "P", 14); err != nil {
		return err
	}
	if err := fx.SetColWidth(tradesSheet, "Q", "R", 20); err != nil {
		return err
	}
	if err := fx.SetPanes(tradesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if len(entries) > 0 {
		last, err := excelize.CoordinatesToCellName(len(journalHeader), len(entries)+1)
		if err != nil {
			return err
		}
		if err := fx.AutoFilter(tradesSheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(fx *excelize.File, sum Summary, styles ExcelStyles) error {
	if err := setRow(fx, summarySheet, 1, []interface{}{"Metric", "Value"}); err != nil {
		return err
	}
	if err := styleRange(fx, summarySheet, 1, 2, 1, styles.HeaderStyle); err != nil {
		return err
	}

	rows := []struct {
		label string
		value interface{}
		style int
	}{
		{"Trades", sum.Trades, styles.BaseStyle},
		{"Open", sum.Open, styles.BaseStyle},
		{"Closed", sum.Closed, styles.BaseStyle},
		{"Canceled", sum.Canceled, styles.BaseStyle},
		{"Wins", sum.Wins, styles.BaseStyle},
		{"Losses", sum.Losses, styles.BaseStyle},
		{"Win Rate", sum.WinRate(), styles.PercentStyle},
		{"Gross PnL", sum.GrossPnL, styles.CurrencyStyle},
		{"Fees (est.)", sum.Fees, styles.CurrencyStyle},
		{"Net PnL", sum.NetPnL, styles.CurrencyStyle},
		{"Fee Rate", sum.FeeRate, styles.PercentStyle},
	}
	for i, r := range rows {
		row := i + 2
		if err := setRow(fx, summarySheet, row, []interface{}{r.label, r.value}); err != nil {
			return err
		}
		if err := styleRange(fx, summarySheet, 1, 1, row, styles.BaseStyle); err != nil {
			return err
		}
		if err := styleRange(fx, summarySheet, 2, 2, row, r.style); err != nil {
			return err
		}
	}
	return fx.SetColWidth(summarySheet, "A", "B", 18)
}
