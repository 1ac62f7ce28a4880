package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode block. Structured facts
// go in the PROPERTIES drawer; Thesis/Execution/Review are left for notes.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s %s (%s)", t.Instrument, t.Direction, t.Pattern, shortID(t.TradeID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	if t.RunID != "" {
		fmt.Fprintf(&b, ":RUN_ID: %s\n", t.RunID)
	}
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", t.Instrument)
	fmt.Fprintf(&b, ":DIRECTION: %s\n", t.Direction)
	fmt.Fprintf(&b, ":PATTERN: %s\n", t.Pattern)
	fmt.Fprintf(&b, ":QUALITY: %s\n", t.Quality)
	fmt.Fprintf(&b, ":LOTS: %.2f\n", t.Lots)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.2f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.2f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":RISK_PCT: %.2f\n", t.RiskPct)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", open)
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", close)
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", t.RealizedPL)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
