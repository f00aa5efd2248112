package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"barwise/internal/domain"
	"barwise/internal/strategy"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	openStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	closeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Width(8)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format("2006-01-02")
}

func renderSummary(res *strategy.BacktestResult, source string, verbose bool) string {
	pnlStyle := gainStyle
	if res.RealizedPnL.IsNegative() {
		pnlStyle = lossStyle
	}

	rows := []string{
		titleStyle.Render(" " + res.Strategy + " "),
		"",
		row("source", valueStyle.Render(source)),
		row("range", valueStyle.Render(fmt.Sprintf("%s .. %s", formatDate(res.Start), formatDate(res.End)))),
		row("bars", valueStyle.Render(fmt.Sprintf("%d", res.Bars))+dimStyle.Render(fmt.Sprintf("  (%d skipped)", res.Skipped))),
		row("intentions", valueStyle.Render(fmt.Sprintf("%d", len(res.Intentions)))),
		row("fills", valueStyle.Render(fmt.Sprintf("%d", len(res.Fills)))),
		row("trades", valueStyle.Render(fmt.Sprintf("%d", res.TotalTrades))),
		row("win rate", valueStyle.Render(fmt.Sprintf("%.1f%%", res.WinRate*100))),
		row("realized P&L", pnlStyle.Render(res.RealizedPnL.StringFixed(2))),
	}

	if len(res.Final) > 0 {
		symbols := make([]string, 0, len(res.Final))
		for s := range res.Final {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		rows = append(rows, "", dimStyle.Render("final positions"))
		for _, s := range symbols {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, symbolStyle.Render(s), positionStyle(res.Final[s]).Render(string(res.Final[s]))))
		}
	}

	if verbose && len(res.Intentions) > 0 {
		rows = append(rows, "", dimStyle.Render("intentions"))
		for _, in := range res.Intentions {
			rows = append(rows, fmt.Sprintf("%s %s %s %s %s",
				dimStyle.Render(in.Timestamp.Format("2006-01-02")),
				symbolStyle.Render(in.Symbol),
				directionStyle(in.Direction).Render(fmt.Sprintf("%-11s", in.Direction)),
				valueStyle.Render(in.Price.StringFixed(2)),
				dimStyle.Render(in.Reason),
			))
		}
	}

	return boxStyle.Render(strings.Join(rows, "\n")) + "\n"
}

func positionStyle(s domain.PositionState) lipgloss.Style {
	switch s {
	case domain.PositionLong:
		return gainStyle
	case domain.PositionShort:
		return lossStyle
	default:
		return dimStyle
	}
}

func directionStyle(d domain.Direction) lipgloss.Style {
	switch d {
	case domain.DirectionOpenLong, domain.DirectionOpenShort:
		return openStyle
	default:
		return closeStyle
	}
}
