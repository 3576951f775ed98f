package usage

// DefaultMaxOutputTokens is the output budget reserved from the context
// window when a model does not declare its own (or declares a larger
// one — the reservation is capped here regardless).
const DefaultMaxOutputTokens int64 = 32000

// IsOverflow reports whether input + cacheRead + output tokens exceed
// the usable context after reserving output space. Reasoning and
// cache-write tokens are deliberately excluded from the count. A zero
// contextLimit means the limit is unknown and is treated as
// unconstrained, never as an error.
//
// modelOutputLimit of 0 means the model declares no output limit.
func IsOverflow(input, cacheRead, output, contextLimit, modelOutputLimit int64) bool {
	if contextLimit == 0 {
		return false
	}

	outputBudget := DefaultMaxOutputTokens
	if modelOutputLimit > 0 && modelOutputLimit < outputBudget {
		outputBudget = modelOutputLimit
	}

	count := input + cacheRead + output
	usable := contextLimit - outputBudget
	return count > usable
}
