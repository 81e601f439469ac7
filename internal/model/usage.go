package model

import "time"

// NormalizedUsage is the provider-independent accounting for a single call.
// All token counts are non-negative; OtherUnits carries non-token billable
// quantities such as search units or classifications.
type NormalizedUsage struct {
	InputTokens       int64
	CachedInputTokens int64
	OutputTokens      int64
	ReasoningTokens   int64
	OtherUnits        map[string]float64
}

// TotalTokens returns the input+output sum used for receipt totals.
func (u NormalizedUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// RawUsageEvent is one ingestion event as received at the process boundary.
// UsageRaw keeps the provider's own shape; adapters normalize it.
type RawUsageEvent struct {
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	UsageRaw        map[string]any `json:"usage_raw"`
	CostOverrideUSD *float64       `json:"cost_override_usd,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`

	Project     string `json:"project,omitempty"`
	Environment string `json:"environment,omitempty"`
	Feature     string `json:"feature,omitempty"`

	ServiceTier string `json:"service_tier,omitempty"`
	Region      string `json:"region,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// LedgerRecord is a priced usage event as persisted in the ledger.
// Records are immutable once written; corrections arrive as new events.
type LedgerRecord struct {
	ID        int64
	Timestamp time.Time

	Project     string
	Environment string
	Feature     string

	Provider    string
	Model       string
	ServiceTier string
	Region      string
	RequestID   string
	Endpoint    string

	Usage NormalizedUsage

	CostUSD      float64
	PriceMissing bool
	PriceVersion string

	// Original provider payload, kept for audit and replay.
	UsageRawJSON string

	CreatedAt time.Time
}
