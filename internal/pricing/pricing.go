// Package pricing loads the versioned rate registry and computes event
// costs. The registry is local, already-fetched configuration: it is read
// once per process and treated as immutable for every calculation, so a
// registry update can never retroactively change a ledgered cost.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/altenk/llmledger/internal/adapter"
	"github.com/altenk/llmledger/internal/model"
)

const tokensPerUnit = 1_000_000

// Rate holds per-million-unit prices for one (provider, model) pair.
// A missing field is zero and means "free", not "missing data".
type Rate struct {
	InputCostPerMillion       float64            `json:"input_cost_per_million"`
	CachedInputCostPerMillion float64            `json:"cached_input_cost_per_million"`
	OutputCostPerMillion      float64            `json:"output_cost_per_million"`
	OtherUnitsCostPerMillion  map[string]float64 `json:"other_units_cost_per_million,omitempty"`
}

type providerRates struct {
	Models map[string]Rate `json:"models"`
}

// Registry is the versioned provider -> model -> rate mapping.
type Registry struct {
	Version   string                   `json:"version"`
	Providers map[string]providerRates `json:"providers"`
}

// Load reads a registry from a JSON file. Provider keys are lowercased so
// lookups match adapter selection, which is case-insensitive.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing registry: %w", err)
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse pricing registry: %w", err)
	}
	lowered := make(map[string]providerRates, len(reg.Providers))
	for name, rates := range reg.Providers {
		lowered[strings.ToLower(name)] = rates
	}
	reg.Providers = lowered
	return &reg, nil
}

// Lookup returns the rate for a (provider, model) pair. A miss is a
// first-class outcome, not an error.
func (r *Registry) Lookup(provider, model string) (Rate, bool) {
	if r == nil {
		return Rate{}, false
	}
	prov, ok := r.Providers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return Rate{}, false
	}
	rate, ok := prov.Models[model]
	return rate, ok
}

// Price computes the cost for a normalized usage record. When the registry
// is nil or the (provider, model) pair is unknown it returns a zero-priced
// placeholder with priceMissing=true; ingestion still succeeds.
//
// Billable standard input depends on the adapter family: subset families
// report cached tokens inside the input figure, so billable input is
// input-cached clamped at zero; sibling families bill input unchanged.
func Price(reg *Registry, provider, modelName string, family adapter.Family, usage model.NormalizedUsage) (float64, bool) {
	rate, ok := reg.Lookup(provider, modelName)
	if !ok {
		return 0, true
	}
	return Cost(usage, family, rate), false
}

// Cost applies a rate record to a usage record.
func Cost(usage model.NormalizedUsage, family adapter.Family, rate Rate) float64 {
	billableInput := usage.InputTokens
	if family.CacheSubset() {
		billableInput -= usage.CachedInputTokens
		if billableInput < 0 {
			billableInput = 0
		}
	}

	cost := float64(billableInput) / tokensPerUnit * rate.InputCostPerMillion
	cost += float64(usage.CachedInputTokens) / tokensPerUnit * rate.CachedInputCostPerMillion
	cost += float64(usage.OutputTokens) / tokensPerUnit * rate.OutputCostPerMillion

	for unit, quantity := range usage.OtherUnits {
		cost += quantity / tokensPerUnit * rate.OtherUnitsCostPerMillion[unit]
	}

	if cost < 0 {
		cost = 0
	}
	return cost
}
