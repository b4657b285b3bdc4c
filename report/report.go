// Package report renders a portfolio.ReportEvent snapshot as ASCII
// tables via tablewriter, in the style of the teacher's backnrun.go trade
// summary: a portfolio totals table, a per-strategy table with a totals
// footer, and a recent risk-history table, returned as one string.
package report

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/kestrelfolio/portfoliocore/pkg/portfolio"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	"github.com/olekukonko/tablewriter"
)

// Render formats event as a multi-section ASCII report: a portfolio
// totals table, a per-strategy allocation/state table and a recent
// risk-history table.
func Render(event portfolio.ReportEvent) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "PORTFOLIO REPORT @ %s\n", event.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "Status: %s | Risk Level: %s\n\n", event.Status, event.State.RiskLevel)

	renderPortfolioTable(&buf, event)
	buf.WriteString("\n")
	renderStrategyTable(&buf, event)
	buf.WriteString("\n")
	renderRiskHistoryTable(&buf, event)

	return buf.String()
}

func renderPortfolioTable(buf *bytes.Buffer, event portfolio.ReportEvent) {
	table := tablewriter.NewWriter(buf)
	table.SetHeader([]string{"Equity", "Position Value", "Position Ratio", "Drawdown", "Daily DD", "Weekly DD"})
	table.Append([]string{
		fmt.Sprintf("%.2f", event.State.TotalEquity),
		fmt.Sprintf("%.2f", event.State.TotalPositionValue),
		fmt.Sprintf("%.1f%%", event.State.PositionRatio*100),
		fmt.Sprintf("%.1f%%", event.State.CurrentDrawdown*100),
		fmt.Sprintf("%.1f%%", event.State.DailyDrawdown*100),
		fmt.Sprintf("%.1f%%", event.State.WeeklyDrawdown*100),
	})
	table.Render()
}

func renderStrategyTable(buf *bytes.Buffer, event portfolio.ReportEvent) {
	table := tablewriter.NewWriter(buf)
	table.SetHeader([]string{"Strategy", "Weight", "Equity", "Position Value", "Daily PnL", "Trades", "Trading Allowed"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	ids := make([]string, 0, len(event.Strategies))
	for id := range event.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var totalEquity, totalPosition float64
	for _, id := range ids {
		state := event.Strategies[id]
		table.Append([]string{
			id,
			fmt.Sprintf("%.1f%%", event.Allocation.Weights[id]*100),
			fmt.Sprintf("%.2f", state.Equity),
			fmt.Sprintf("%.2f", state.PositionValue),
			fmt.Sprintf("%.2f", state.DailyPnL),
			fmt.Sprintf("%d", len(state.Trades)),
			fmt.Sprintf("%t", state.TradingAllowed),
		})
		totalEquity += state.Equity
		totalPosition += state.PositionValue
	}
	table.SetFooter([]string{"TOTAL", "", fmt.Sprintf("%.2f", totalEquity), fmt.Sprintf("%.2f", totalPosition), "", "", ""})
	table.Render()
}

func renderRiskHistoryTable(buf *bytes.Buffer, event portfolio.ReportEvent) {
	table := tablewriter.NewWriter(buf)
	table.SetHeader([]string{"Time", "Check", "Message"})
	for _, entry := range event.RiskHistory {
		table.Append([]string{
			entry.Timestamp.Format("15:04:05"),
			string(entry.Type),
			riskMessage(entry),
		})
	}
	table.Render()
}

// riskMessage renders a HistoryEntry's Details map as a compact
// "key=value, key=value" string for the risk-history table's Message
// column.
func riskMessage(entry risk.HistoryEntry) string {
	if len(entry.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Details))
	for k := range entry.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%v", k, entry.Details[k])
	}
	return buf.String()
}
