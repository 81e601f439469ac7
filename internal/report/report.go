// Package report is the read side of the ledger: daily and monthly cost
// breakdowns computed on demand. Reports never mutate the ledger and an
// empty period yields zero totals, not an error.
package report

import (
	"time"

	"github.com/altenk/llmledger/internal/ledger"
)

// DailyReport breaks one calendar day down by (provider, model).
type DailyReport struct {
	Date         string                `json:"date"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	Breakdown    []ledger.BreakdownRow `json:"breakdown"`
}

// MonthlyReport is the per-day cost series for one calendar month.
type MonthlyReport struct {
	Month        string           `json:"month"`
	TotalCostUSD float64          `json:"total_cost_usd"`
	Days         []ledger.DayCost `json:"days"`
}

// Daily builds the report for a calendar day (YYYY-MM-DD); an empty date
// means today.
func Daily(store *ledger.Store, date string) (*DailyReport, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	breakdown, err := store.DailyBreakdown(date)
	if err != nil {
		return nil, err
	}
	total, err := store.DayTotal(date)
	if err != nil {
		return nil, err
	}
	return &DailyReport{
		Date:         date,
		TotalCostUSD: total,
		Breakdown:    breakdown,
	}, nil
}

// Monthly builds the report for a calendar month (YYYY-MM); an empty month
// means the current one.
func Monthly(store *ledger.Store, month string) (*MonthlyReport, error) {
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	days, err := store.MonthlySeries(month)
	if err != nil {
		return nil, err
	}
	total, err := store.MonthTotal(month)
	if err != nil {
		return nil, err
	}
	return &MonthlyReport{
		Month:        month,
		TotalCostUSD: total,
		Days:         days,
	}, nil
}
