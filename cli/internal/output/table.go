package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/report"
)

const (
	compactThreshold = 100 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	if n == 0 {
		return "0"
	}

	str := fmt.Sprintf("%d", n)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	result := ""
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}

	if negative {
		return "-" + result
	}
	return result
}

// FormatCost formats a cost value as currency. Four decimals because
// single calls routinely land in the sub-cent range.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// PrintDaily prints a daily report as a formatted table
func PrintDaily(rep *report.DailyReport) {
	PrintDailyWithOptions(rep, TableOptions{})
}

// PrintDailyWithOptions prints a daily report with display options
func PrintDailyWithOptions(rep *report.DailyReport, opts TableOptions) {
	if len(rep.Breakdown) == 0 {
		fmt.Printf("No usage recorded for %s.\n", rep.Date)
		return
	}

	compact := shouldUseCompact(opts)

	keyWidth := len("Provider/Model")
	for _, row := range rep.Breakdown {
		key := row.Provider + "/" + row.Model
		if len(key) > keyWidth {
			keyWidth = len(key)
		}
	}
	if compact && keyWidth > 24 {
		keyWidth = 24
	}

	fmt.Printf("\nUsage for %s\n\n", rep.Date)

	if compact {
		// Compact: Provider/Model, Calls, Cost
		fmt.Printf("%-*s  %8s  %12s\n", keyWidth, "Provider/Model", "Calls", "Cost")
		fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12))

		for _, row := range rep.Breakdown {
			key := row.Provider + "/" + row.Model
			if len(key) > keyWidth {
				key = key[:keyWidth]
			}
			fmt.Printf("%-*s  %8s  %12s\n",
				keyWidth, key,
				FormatNumber(row.CallCount),
				FormatCost(row.TotalCost))
		}

		fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12))
		fmt.Printf("%-*s  %8s  %12s\n", keyWidth, "Total", "", FormatCost(rep.TotalCostUSD))
		fmt.Println()
		fmt.Println("(Compact mode - expand terminal for full view)")
		return
	}

	// Full: Provider/Model, Calls, Input, Output, Cost
	fmt.Printf("%-*s  %8s  %12s  %12s  %12s\n",
		keyWidth, "Provider/Model", "Calls", "Input", "Output", "Cost")
	fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12+2+12+2+12))

	var totalIn, totalOut, totalCalls int64
	for _, row := range rep.Breakdown {
		key := row.Provider + "/" + row.Model
		fmt.Printf("%-*s  %8s  %12s  %12s  %12s\n",
			keyWidth, key,
			FormatNumber(row.CallCount),
			FormatNumber(row.InputTokens),
			FormatNumber(row.OutputTokens),
			FormatCost(row.TotalCost))
		totalCalls += row.CallCount
		totalIn += row.InputTokens
		totalOut += row.OutputTokens
	}

	fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12+2+12+2+12))
	fmt.Printf("%-*s  %8s  %12s  %12s  %12s\n",
		keyWidth, "Total",
		FormatNumber(totalCalls),
		FormatNumber(totalIn),
		FormatNumber(totalOut),
		FormatCost(rep.TotalCostUSD))
	fmt.Println()
}

// PrintMonthly prints a monthly report as a day-by-day series
func PrintMonthly(rep *report.MonthlyReport) {
	if len(rep.Days) == 0 {
		fmt.Printf("No usage recorded for %s.\n", rep.Month)
		return
	}

	fmt.Printf("\nUsage for %s\n\n", rep.Month)
	fmt.Printf("%-12s  %12s\n", "Day", "Cost")
	fmt.Println(strings.Repeat("─", 12+2+12))

	for _, d := range rep.Days {
		fmt.Printf("%-12s  %12s\n", d.Day, FormatCost(d.CostUSD))
	}

	fmt.Println(strings.Repeat("─", 12+2+12))
	fmt.Printf("%-12s  %12s\n", "Total", FormatCost(rep.TotalCostUSD))
	fmt.Println()
}

// JSONDaily represents a daily report in JSON output form
type JSONDaily struct {
	Date      string                `json:"date"`
	TotalCost float64               `json:"total_cost"`
	Breakdown []ledger.BreakdownRow `json:"breakdown"`
}

// JSONMonthly represents a monthly report in JSON output form
type JSONMonthly struct {
	Month     string           `json:"month"`
	TotalCost float64          `json:"total_cost"`
	Days      []ledger.DayCost `json:"days"`
}

// PrintDailyJSON outputs a daily report as indented JSON
func PrintDailyJSON(rep *report.DailyReport) error {
	out := JSONDaily{
		Date:      rep.Date,
		TotalCost: rep.TotalCostUSD,
		Breakdown: rep.Breakdown,
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// PrintMonthlyJSON outputs a monthly report as indented JSON
func PrintMonthlyJSON(rep *report.MonthlyReport) error {
	out := JSONMonthly{
		Month:     rep.Month,
		TotalCost: rep.TotalCostUSD,
		Days:      rep.Days,
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
