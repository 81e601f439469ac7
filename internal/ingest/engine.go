// Package ingest wires the pipeline for one event: normalize the raw usage,
// price it against the registry, apply any override, and append the result
// to the ledger. The engine performs no retries; callers decide whether to
// resubmit a failed event.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altenk/llmledger/internal/adapter"
	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/model"
	"github.com/altenk/llmledger/internal/pricing"
)

// Receipt statuses returned to the caller.
const (
	StatusLogged             = "logged"
	StatusLoggedPriceMissing = "logged_price_missing"
)

// Engine prices and ledgers usage events. The registry may be nil when no
// pricing data is configured; events are then ledgered at zero cost with
// price_missing set so nothing is silently dropped.
type Engine struct {
	store    *ledger.Store
	registry *pricing.Registry
}

// New returns an Engine writing to store and pricing against registry.
func New(store *ledger.Store, registry *pricing.Registry) *Engine {
	return &Engine{store: store, registry: registry}
}

// Transaction echoes what was just computed for one event.
type Transaction struct {
	RecordID          int64   `json:"record_id"`
	RequestID         string  `json:"request_id"`
	CostUSD           float64 `json:"cost_usd"`
	InputTokens       int64   `json:"input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	CachedInputTokens int64   `json:"cached_input_tokens"`
	PriceMissing      bool    `json:"price_missing"`
}

// Totals carries the running daily sums after the event was ledgered.
type Totals struct {
	DailyCostUSD     float64 `json:"daily_cost_usd"`
	DailyTokensTotal int64   `json:"daily_tokens_total"`
}

// Receipt is the result of a successful ingestion.
type Receipt struct {
	Status      string      `json:"status"`
	Transaction Transaction `json:"transaction"`
	Totals      Totals      `json:"totals"`
}

// Track ingests one event. Malformed input fails before anything is
// written; a storage failure fails this call without leaving a partial
// record behind.
func (e *Engine) Track(ev *model.RawUsageEvent) (*Receipt, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}

	provider := ev.Provider
	if provider == "" {
		provider = "unknown"
	}
	modelName := ev.Model
	if modelName == "" {
		modelName = "unknown"
	}

	ts := time.Now().UTC()
	if ev.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", ev.Timestamp, err)
		}
		ts = parsed.UTC()
	}

	family := adapter.Resolve(provider)
	usage := family.Normalize(ev.UsageRaw)

	cost, priceMissing := pricing.Price(e.registry, provider, modelName, family, usage)
	if ev.CostOverrideUSD != nil {
		cost = *ev.CostOverrideUSD
		priceMissing = false
	}
	if cost < 0 {
		return nil, fmt.Errorf("negative cost %.6f for %s/%s", cost, provider, modelName)
	}

	rawJSON, err := json.Marshal(ev.UsageRaw)
	if err != nil {
		return nil, fmt.Errorf("encode raw usage: %w", err)
	}

	requestID := ev.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	rec := &model.LedgerRecord{
		Timestamp:    ts,
		Project:      defaultString(ev.Project, "default"),
		Environment:  defaultString(ev.Environment, "dev"),
		Feature:      defaultString(ev.Feature, "unknown"),
		Provider:     provider,
		Model:        modelName,
		ServiceTier:  ev.ServiceTier,
		Region:       ev.Region,
		RequestID:    requestID,
		Endpoint:     ev.Endpoint,
		Usage:        usage,
		CostUSD:      cost,
		PriceMissing: priceMissing,
		PriceVersion: e.registryVersion(),
		UsageRawJSON: string(rawJSON),
	}

	id, err := e.store.Append(rec)
	if err != nil {
		return nil, err
	}

	day := ts.Format("2006-01-02")
	dailyCost, dailyTokens, err := e.store.DailyTotals(day)
	if err != nil {
		return nil, err
	}

	status := StatusLogged
	if priceMissing {
		status = StatusLoggedPriceMissing
	}

	return &Receipt{
		Status: status,
		Transaction: Transaction{
			RecordID:          id,
			RequestID:         requestID,
			CostUSD:           cost,
			InputTokens:       usage.InputTokens,
			OutputTokens:      usage.OutputTokens,
			CachedInputTokens: usage.CachedInputTokens,
			PriceMissing:      priceMissing,
		},
		Totals: Totals{
			DailyCostUSD:     dailyCost,
			DailyTokensTotal: dailyTokens,
		},
	}, nil
}

func (e *Engine) registryVersion() string {
	if e.registry == nil {
		return ""
	}
	return e.registry.Version
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
