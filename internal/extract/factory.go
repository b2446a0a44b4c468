package extract

import (
	"fmt"
	"strings"
)

// NewExtractor creates an extraction leg based on the provided
// configuration.
func NewExtractor(cfg Config) (Extractor, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return newAnthropicExtractor(cfg)
	case "openai":
		return newOpenAIExtractor(cfg)
	case "mock":
		return NewMockExtractor(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", cfg.Provider)
	}
}
