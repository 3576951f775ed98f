package usage

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimate is the result of a pure token-count computation. It is
// not persisted anywhere.
type TokenEstimate struct {
	Tokens        int
	Model         string
	Characters    int
	EstimatedCost float64
}

// EncoderCache maps model ids to tokenizer encoders. Encoders load lazily
// on first use per model and are never evicted. The cache is safe for
// concurrent use across sessions (read-mostly, write-once-per-model).
//
// The cache is an explicit injected object rather than package state so
// tests can substitute a fresh one.
type EncoderCache struct {
	mu       sync.RWMutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewEncoderCache creates an empty encoder cache.
func NewEncoderCache() *EncoderCache {
	return &EncoderCache{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// encodingForModel maps a model id to a tiktoken encoding name. Modern
// OpenAI models use o200k_base; everything else (including Anthropic
// models, which have no public tokenizer) approximates with cl100k_base.
func encodingForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"),
		m == "o1", strings.HasPrefix(m, "o1-"),
		m == "o3", strings.HasPrefix(m, "o3-"):
		return "o200k_base"
	}
	return "cl100k_base"
}

// Get returns the encoder for a model, loading and caching it on first
// use. Returns nil when no encoding could be loaded; callers fall back
// to a character heuristic.
func (c *EncoderCache) Get(model string) *tiktoken.Tiktoken {
	c.mu.RLock()
	enc, ok := c.encoders[model]
	c.mu.RUnlock()
	if ok {
		return enc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(encodingForModel(model))
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	c.encoders[model] = enc
	return enc
}

// approxCharsPerToken is the fallback ratio when no encoder is
// available. Conservative for English text with code; overestimating
// triggers truncation early rather than risking provider-side overflow.
const approxCharsPerToken = 4

// CountTokens counts tokens in text for the given model, falling back
// to a character heuristic when no encoder loads.
func (c *EncoderCache) CountTokens(text, model string) int {
	if enc := c.Get(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
}

// EstimateTokens computes the token count, character count, and input
// cost for text under the given model's pricing. Unknown models use the
// default tokenizer and pricing.
func (c *EncoderCache) EstimateTokens(text, model string) TokenEstimate {
	pricing, _ := LookupPricing(model)
	tokens := c.CountTokens(text, model)
	return TokenEstimate{
		Tokens:        tokens,
		Model:         model,
		Characters:    len(text),
		EstimatedCost: float64(tokens) / 1_000_000 * pricing.InputPer1M,
	}
}

// defaultEncoders backs the package-level helpers.
var defaultEncoders = NewEncoderCache()

// CountTokens counts tokens using the shared encoder cache.
func CountTokens(text, model string) int {
	return defaultEncoders.CountTokens(text, model)
}

// EstimateTokens estimates tokens and cost using the shared encoder cache.
func EstimateTokens(text, model string) TokenEstimate {
	return defaultEncoders.EstimateTokens(text, model)
}
