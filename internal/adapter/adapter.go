// Package adapter normalizes provider-specific usage payloads into the
// common NormalizedUsage shape. Adapters are pure: no pricing, no I/O, and
// missing fields default to zero instead of failing.
package adapter

import (
	"strings"

	"github.com/altenk/llmledger/internal/model"
)

// Family identifies a provider accounting family. New providers are added by
// extending the lookup table below, not by writing per-provider code paths.
type Family int

const (
	// FamilyFallback normalizes everything to zero. Unrecognized providers
	// land here so ingestion never blocks on an unknown vendor.
	FamilyFallback Family = iota

	// FamilyPromptCompletion covers prompt_tokens/completion_tokens shapes
	// where cached tokens are a subset of the reported prompt count and
	// reasoning tokens are a subset of the completion count.
	FamilyPromptCompletion

	// FamilyInputOutput covers input_tokens/output_tokens shapes where cache
	// reads are reported as a sibling count excluded from input_tokens.
	FamilyInputOutput

	// FamilyPromptCandidates covers promptTokenCount/candidatesTokenCount
	// shapes with no cache or reasoning distinction.
	FamilyPromptCandidates

	// FamilyBilledUnits covers billed_units shapes that also report
	// non-token units such as search_units and classifications.
	FamilyBilledUnits

	// FamilyInvokeCounts covers inputTokenCount/outputTokenCount shapes.
	FamilyInvokeCounts
)

// families maps lowercase provider identifiers to their accounting family.
var families = map[string]Family{
	"openai":      FamilyPromptCompletion,
	"xai":         FamilyPromptCompletion,
	"deepseek":    FamilyPromptCompletion,
	"anthropic":   FamilyInputOutput,
	"gemini":      FamilyPromptCandidates,
	"google":      FamilyPromptCandidates,
	"cohere":      FamilyBilledUnits,
	"bedrock":     FamilyInvokeCounts,
	"aws_bedrock": FamilyInvokeCounts,
}

// Resolve selects the family for a provider identifier, case-insensitively.
// Unknown providers resolve to FamilyFallback.
func Resolve(provider string) Family {
	if f, ok := families[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return f
	}
	return FamilyFallback
}

// CacheSubset reports whether this family counts cached tokens inside the
// reported input figure. Pricing keys billable-input semantics off this,
// never off the provider string, so a new provider of an existing family
// is priced correctly without touching the calculator.
func (f Family) CacheSubset() bool {
	return f == FamilyPromptCompletion
}

func (f Family) String() string {
	switch f {
	case FamilyPromptCompletion:
		return "prompt_completion"
	case FamilyInputOutput:
		return "input_output"
	case FamilyPromptCandidates:
		return "prompt_candidates"
	case FamilyBilledUnits:
		return "billed_units"
	case FamilyInvokeCounts:
		return "invoke_counts"
	default:
		return "fallback"
	}
}

// Normalize converts a raw provider usage payload into NormalizedUsage.
// Absent or non-numeric fields count as zero; negative counts clamp to zero.
func (f Family) Normalize(raw map[string]any) model.NormalizedUsage {
	switch f {
	case FamilyPromptCompletion:
		u := model.NormalizedUsage{
			InputTokens:  count(raw, "prompt_tokens"),
			OutputTokens: count(raw, "completion_tokens"),
		}
		if details := nested(raw, "prompt_tokens_details"); details != nil {
			u.CachedInputTokens = count(details, "cached_tokens")
		}
		if details := nested(raw, "completion_tokens_details"); details != nil {
			u.ReasoningTokens = count(details, "reasoning_tokens")
		}
		return u

	case FamilyInputOutput:
		u := model.NormalizedUsage{
			InputTokens:       count(raw, "input_tokens"),
			OutputTokens:      count(raw, "output_tokens"),
			CachedInputTokens: count(raw, "cache_read_input_tokens"),
		}
		// Cache creation is billed at its own rate, so it travels as a
		// distinct unit rather than being folded into input.
		if n := count(raw, "cache_creation_input_tokens"); n > 0 {
			u.OtherUnits = map[string]float64{"cache_creation_tokens": float64(n)}
		}
		return u

	case FamilyPromptCandidates:
		return model.NormalizedUsage{
			InputTokens:  count(raw, "promptTokenCount"),
			OutputTokens: count(raw, "candidatesTokenCount"),
		}

	case FamilyBilledUnits:
		u := model.NormalizedUsage{
			InputTokens:  count(raw, "input_tokens"),
			OutputTokens: count(raw, "output_tokens"),
		}
		units := make(map[string]float64)
		if n := number(raw, "search_units"); n > 0 {
			units["search_units"] = n
		}
		if n := number(raw, "classifications"); n > 0 {
			units["classifications"] = n
		}
		if len(units) > 0 {
			u.OtherUnits = units
		}
		return u

	case FamilyInvokeCounts:
		return model.NormalizedUsage{
			InputTokens:  count(raw, "inputTokenCount"),
			OutputTokens: count(raw, "outputTokenCount"),
		}

	default:
		return model.NormalizedUsage{}
	}
}

// count reads a numeric field as a non-negative token count.
func count(raw map[string]any, key string) int64 {
	n := int64(number(raw, key))
	if n < 0 {
		return 0
	}
	return n
}

// number reads a numeric field, tolerating the types encoding/json produces.
func number(raw map[string]any, key string) float64 {
	if raw == nil {
		return 0
	}
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// nested reads a nested object field, returning nil when absent.
func nested(raw map[string]any, key string) map[string]any {
	if raw == nil {
		return nil
	}
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return nil
}
