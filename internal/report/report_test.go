package report_test

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/model"
	"github.com/altenk/llmledger/internal/report"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	s, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendCall(t *testing.T, s *ledger.Store, provider, modelName string, ts time.Time, cost float64) {
	t.Helper()
	_, err := s.Append(&model.LedgerRecord{
		Timestamp: ts,
		Provider:  provider,
		Model:     modelName,
		Usage:     model.NormalizedUsage{InputTokens: 100, OutputTokens: 10},
		CostUSD:   cost,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}

func TestDailyTotalEqualsBreakdownSum(t *testing.T) {
	s := openStore(t)
	ts := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	appendCall(t, s, "openai", "gpt-x", ts, 0.02)
	appendCall(t, s, "openai", "gpt-x", ts.Add(time.Hour), 0.03)
	appendCall(t, s, "anthropic", "claude-z", ts, 0.10)
	appendCall(t, s, "gemini", "g-pro", ts.Add(2*time.Hour), 0.01)

	rep, err := report.Daily(s, "2026-08-28")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}

	var sum float64
	for _, row := range rep.Breakdown {
		sum += row.TotalCost
	}
	if math.Abs(rep.TotalCostUSD-sum) > 1e-9 {
		t.Fatalf("total %.10f != breakdown sum %.10f", rep.TotalCostUSD, sum)
	}
	if len(rep.Breakdown) != 3 {
		t.Fatalf("got %d breakdown rows, want 3", len(rep.Breakdown))
	}
}

func TestDailyEmptyLedger(t *testing.T) {
	s := openStore(t)
	rep, err := report.Daily(s, "2026-08-28")
	if err != nil {
		t.Fatalf("Daily failed on empty ledger: %v", err)
	}
	if rep.TotalCostUSD != 0 || len(rep.Breakdown) != 0 {
		t.Fatalf("empty ledger report = %+v, want zero totals and no rows", rep)
	}
}

func TestMonthlySeriesAndTotal(t *testing.T) {
	s := openStore(t)
	appendCall(t, s, "openai", "gpt-x", time.Date(2026, 8, 2, 8, 0, 0, 0, time.UTC), 0.10)
	appendCall(t, s, "openai", "gpt-x", time.Date(2026, 8, 2, 19, 0, 0, 0, time.UTC), 0.05)
	appendCall(t, s, "openai", "gpt-x", time.Date(2026, 8, 15, 8, 0, 0, 0, time.UTC), 0.20)
	appendCall(t, s, "openai", "gpt-x", time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), 9.99)

	rep, err := report.Monthly(s, "2026-08")
	if err != nil {
		t.Fatalf("Monthly failed: %v", err)
	}
	if len(rep.Days) != 2 {
		t.Fatalf("got %d days, want 2", len(rep.Days))
	}
	if rep.Days[0].Day != "2026-08-02" || rep.Days[1].Day != "2026-08-15" {
		t.Fatalf("days out of order: %+v", rep.Days)
	}
	if math.Abs(rep.TotalCostUSD-0.35) > 1e-9 {
		t.Fatalf("month total = %f, want 0.35", rep.TotalCostUSD)
	}
}

func TestMonthlyEmptyLedger(t *testing.T) {
	s := openStore(t)
	rep, err := report.Monthly(s, "2026-08")
	if err != nil {
		t.Fatalf("Monthly failed on empty ledger: %v", err)
	}
	if rep.TotalCostUSD != 0 || len(rep.Days) != 0 {
		t.Fatalf("empty ledger report = %+v, want zero totals and no days", rep)
	}
}
