package adapter_test

import (
	"testing"

	"github.com/altenk/llmledger/internal/adapter"
)

func TestResolveCaseInsensitive(t *testing.T) {
	for _, name := range []string{"openai", "OpenAI", "OPENAI", "  openai  "} {
		if got := adapter.Resolve(name); got != adapter.FamilyPromptCompletion {
			t.Fatalf("Resolve(%q) = %v, want prompt_completion", name, got)
		}
	}
	if got := adapter.Resolve("Anthropic"); got != adapter.FamilyInputOutput {
		t.Fatalf("Resolve(Anthropic) = %v, want input_output", got)
	}
}

func TestResolveUnknownFallsBack(t *testing.T) {
	for _, name := range []string{"", "unknown", "some-new-vendor"} {
		if got := adapter.Resolve(name); got != adapter.FamilyFallback {
			t.Fatalf("Resolve(%q) = %v, want fallback", name, got)
		}
	}
}

func TestNormalizeEmptyPayloadIsAllZero(t *testing.T) {
	families := []adapter.Family{
		adapter.FamilyFallback,
		adapter.FamilyPromptCompletion,
		adapter.FamilyInputOutput,
		adapter.FamilyPromptCandidates,
		adapter.FamilyBilledUnits,
		adapter.FamilyInvokeCounts,
	}
	for _, f := range families {
		for _, raw := range []map[string]any{nil, {}} {
			u := f.Normalize(raw)
			if u.InputTokens != 0 || u.OutputTokens != 0 || u.CachedInputTokens != 0 || u.ReasoningTokens != 0 {
				t.Fatalf("family %v: empty payload normalized to %+v, want all zero", f, u)
			}
			if len(u.OtherUnits) != 0 {
				t.Fatalf("family %v: empty payload produced other units %v", f, u.OtherUnits)
			}
		}
	}
}

func TestNormalizePromptCompletion(t *testing.T) {
	raw := map[string]any{
		"prompt_tokens":     float64(100),
		"completion_tokens": float64(20),
		"prompt_tokens_details": map[string]any{
			"cached_tokens": float64(30),
		},
		"completion_tokens_details": map[string]any{
			"reasoning_tokens": float64(5),
		},
	}
	u := adapter.FamilyPromptCompletion.Normalize(raw)
	if u.InputTokens != 100 || u.OutputTokens != 20 {
		t.Fatalf("got input=%d output=%d, want 100/20", u.InputTokens, u.OutputTokens)
	}
	if u.CachedInputTokens != 30 {
		t.Fatalf("got cached=%d, want 30", u.CachedInputTokens)
	}
	if u.ReasoningTokens != 5 {
		t.Fatalf("got reasoning=%d, want 5", u.ReasoningTokens)
	}
}

func TestNormalizeInputOutputSiblingCache(t *testing.T) {
	raw := map[string]any{
		"input_tokens":                float64(80),
		"output_tokens":               float64(40),
		"cache_read_input_tokens":     float64(25),
		"cache_creation_input_tokens": float64(10),
	}
	u := adapter.FamilyInputOutput.Normalize(raw)
	if u.InputTokens != 80 || u.CachedInputTokens != 25 || u.OutputTokens != 40 {
		t.Fatalf("unexpected normalization: %+v", u)
	}
	if u.OtherUnits["cache_creation_tokens"] != 10 {
		t.Fatalf("cache creation not carried as other unit: %v", u.OtherUnits)
	}
	if adapter.FamilyInputOutput.CacheSubset() {
		t.Fatal("input_output family must report sibling cache semantics")
	}
}

func TestNormalizePromptCandidates(t *testing.T) {
	raw := map[string]any{
		"promptTokenCount":     float64(55),
		"candidatesTokenCount": float64(12),
	}
	u := adapter.FamilyPromptCandidates.Normalize(raw)
	if u.InputTokens != 55 || u.OutputTokens != 12 {
		t.Fatalf("unexpected normalization: %+v", u)
	}
}

func TestNormalizeBilledUnits(t *testing.T) {
	raw := map[string]any{
		"input_tokens":    float64(200),
		"output_tokens":   float64(50),
		"search_units":    float64(3),
		"classifications": float64(7),
	}
	u := adapter.FamilyBilledUnits.Normalize(raw)
	if u.InputTokens != 200 || u.OutputTokens != 50 {
		t.Fatalf("unexpected tokens: %+v", u)
	}
	if u.OtherUnits["search_units"] != 3 || u.OtherUnits["classifications"] != 7 {
		t.Fatalf("unexpected other units: %v", u.OtherUnits)
	}
}

func TestNormalizeInvokeCounts(t *testing.T) {
	raw := map[string]any{
		"inputTokenCount":  float64(11),
		"outputTokenCount": float64(22),
	}
	u := adapter.FamilyInvokeCounts.Normalize(raw)
	if u.InputTokens != 11 || u.OutputTokens != 22 {
		t.Fatalf("unexpected normalization: %+v", u)
	}
}

func TestNormalizeClampsNegativeCounts(t *testing.T) {
	raw := map[string]any{
		"prompt_tokens":     float64(-5),
		"completion_tokens": float64(10),
	}
	u := adapter.FamilyPromptCompletion.Normalize(raw)
	if u.InputTokens != 0 {
		t.Fatalf("negative count not clamped: %d", u.InputTokens)
	}
	if u.OutputTokens != 10 {
		t.Fatalf("got output=%d, want 10", u.OutputTokens)
	}
}

func TestCacheSubsetPerFamily(t *testing.T) {
	if !adapter.FamilyPromptCompletion.CacheSubset() {
		t.Fatal("prompt_completion must report subset cache semantics")
	}
	for _, f := range []adapter.Family{
		adapter.FamilyInputOutput,
		adapter.FamilyPromptCandidates,
		adapter.FamilyBilledUnits,
		adapter.FamilyInvokeCounts,
		adapter.FamilyFallback,
	} {
		if f.CacheSubset() {
			t.Fatalf("family %v must not report subset cache semantics", f)
		}
	}
}
