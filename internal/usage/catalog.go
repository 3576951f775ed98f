// Package usage provides token counting, per-model pricing, session
// usage tracking, and the context-overflow predicate.
package usage

import (
	"sort"
	"strings"
)

// Pricing holds the static pricing and limits for one model. All rates
// are USD per one million tokens and must be non-negative. CacheRead
// and CacheWrite are zero for models without cache pricing, which bills
// cache traffic at no added cost.
type Pricing struct {
	InputPer1M      float64 `json:"input_per_1m" yaml:"input_per_1m"`
	OutputPer1M     float64 `json:"output_per_1m" yaml:"output_per_1m"`
	CacheReadPer1M  float64 `json:"cache_read_per_1m,omitempty" yaml:"cache_read_per_1m,omitempty"`
	CacheWritePer1M float64 `json:"cache_write_per_1m,omitempty" yaml:"cache_write_per_1m,omitempty"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int64 `json:"context_window" yaml:"context_window"`

	// MaxOutputTokens is the maximum output size, 0 if unknown.
	MaxOutputTokens int64 `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
}

// DefaultPricing is used when a model is not in the catalog. Mid-tier
// rates and a 128k window keep cost estimates conservative rather than
// zero for unknown models.
var DefaultPricing = Pricing{
	InputPer1M:    3.0,
	OutputPer1M:   15.0,
	ContextWindow: 128000,
}

// catalog maps model ids to pricing. Aliases are resolved before lookup.
var catalog = map[string]Pricing{
	"claude-opus-4": {
		InputPer1M:      15.0,
		OutputPer1M:     75.0,
		CacheReadPer1M:  1.5,
		CacheWritePer1M: 18.75,
		ContextWindow:   200000,
		MaxOutputTokens: 32000,
	},
	"claude-sonnet-4": {
		InputPer1M:      3.0,
		OutputPer1M:     15.0,
		CacheReadPer1M:  0.3,
		CacheWritePer1M: 3.75,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
	},
	"claude-3-5-haiku": {
		InputPer1M:      0.8,
		OutputPer1M:     4.0,
		CacheReadPer1M:  0.08,
		CacheWritePer1M: 1.0,
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
	},
	"gpt-4o": {
		InputPer1M:      2.5,
		OutputPer1M:     10.0,
		CacheReadPer1M:  1.25,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
	},
	"gpt-4o-mini": {
		InputPer1M:      0.15,
		OutputPer1M:     0.6,
		CacheReadPer1M:  0.075,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
	},
	"o1": {
		InputPer1M:      15.0,
		OutputPer1M:     60.0,
		CacheReadPer1M:  7.5,
		ContextWindow:   200000,
		MaxOutputTokens: 100000,
	},
}

// aliases maps dated or shorthand model ids to catalog ids.
var aliases = map[string]string{
	"opus":                      "claude-opus-4",
	"claude-opus-4-5-20251101":  "claude-opus-4",
	"sonnet":                    "claude-sonnet-4",
	"claude-sonnet-4-20250514":  "claude-sonnet-4",
	"haiku":                     "claude-3-5-haiku",
	"claude-3-5-haiku-20241022": "claude-3-5-haiku",
	"gpt-4o-2024-11-20":         "gpt-4o",
	"gpt-4o-mini-2024-07-18":    "gpt-4o-mini",
	"o1-2024-12-17":             "o1",
}

// LookupPricing resolves a model id (or alias) to its pricing. The
// second return is false when the model is unknown and DefaultPricing
// was returned.
func LookupPricing(model string) (Pricing, bool) {
	id := strings.ToLower(strings.TrimSpace(model))
	if canonical, ok := aliases[id]; ok {
		id = canonical
	}
	if p, ok := catalog[id]; ok {
		return p, true
	}
	return DefaultPricing, false
}

// CatalogModels returns the canonical ids of all cataloged models,
// sorted for stable output.
func CatalogModels() []string {
	out := make([]string, 0, len(catalog))
	for id := range catalog {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
