package providers

import (
	"fmt"

	"github.com/strandlabs/strand/internal/session"
)

// New returns the provider for the given name. An empty name selects
// anthropic.
func New(name string, cfg Config) (session.Provider, error) {
	switch name {
	case "", "anthropic":
		return NewAnthropic(cfg)
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
