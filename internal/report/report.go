package report

import (
	"fmt"
	"io"
	"strconv"

	"snipebot/internal/models"

	"github.com/olekukonko/tablewriter"
)

// Write prints the session summary, the sell history and the positions still held.
func Write(w io.Writer, s models.Summary, records []models.SellRecord, held []models.Position) error {
	fmt.Fprintf(w, "\nПродаж: %d | прибыльных: %d | убыточных: %d | win rate: %.1f%% | итог: %s BNB | в позиции: %d\n",
		s.TotalSells, s.ProfitableSells, s.LossSells, s.WinRate, s.TotalProfit.StringFixed(6), s.HeldCount)

	if len(records) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("#", "Asset", "Reason", "Fraction", "Entry", "Exit", "PnL %", "Profit BNB", "Tx")
		for i, r := range records {
			if err := table.Append(
				strconv.Itoa(i+1),
				short(r.Asset.Hex()),
				string(r.Reason),
				fmt.Sprintf("%.2f", r.Fraction),
				price(r.EntryPrice),
				price(r.ExitPrice),
				fmt.Sprintf("%+.2f", r.ProfitPercent),
				r.RealizedProfit.StringFixed(6),
				short(r.TxHash.Hex()),
			); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(held) > 0 {
		fmt.Fprintln(w, "\nОткрытые позиции:")
		table := tablewriter.NewWriter(w)
		table.Header("Asset", "Pair", "Entry", "Last", "High", "Remaining", "Partial")
		for _, p := range held {
			remaining := "0"
			if p.Remaining != nil {
				remaining = p.Remaining.String()
			}
			if err := table.Append(
				short(p.Asset.Hex()),
				short(p.Pair.Hex()),
				price(p.EntryPrice),
				price(p.LastPrice),
				price(p.HighestPrice),
				remaining,
				strconv.FormatBool(p.PartialExited),
			); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func short(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:8] + "…" + hex[len(hex)-4:]
}
