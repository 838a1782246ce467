package engine

import (
	"fmt"
	"time"

	"github.com/kalambet/rolechat/internal/ollama"
)

// Options selects and configures one gateway.
type Options struct {
	// Provider is "openai" or "ollama".
	Provider string
	Model    string
	// BaseURL overrides the provider endpoint. For ollama it is the server
	// address.
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Temperature applies to generators only.
	Temperature float64

	RequestsPerSecond float64
	MaxRetries        int
}

// NewEmbedder builds the configured embedding gateway wrapped in a Limiter.
func NewEmbedder(o Options) (Embedder, error) {
	var e Embedder
	switch o.Provider {
	case providerOpenAI:
		if o.APIKey == "" {
			return nil, fmt.Errorf("openai embedder: API key is required")
		}
		e = NewOpenAIEmbedder(o.APIKey, o.BaseURL, o.Model, o.Timeout)
	case providerOllama:
		e = NewOllamaEmbedder(ollama.New(o.BaseURL), o.Model, o.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", o.Provider)
	}
	return LimitEmbedder(e, NewLimiter(o.RequestsPerSecond, o.MaxRetries)), nil
}

// NewGenerator builds the configured generation gateway wrapped in a Limiter.
func NewGenerator(o Options) (Generator, error) {
	var g Generator
	switch o.Provider {
	case providerOpenAI:
		if o.APIKey == "" {
			return nil, fmt.Errorf("openai generator: API key is required")
		}
		g = NewOpenAIGenerator(o.APIKey, o.BaseURL, o.Model, o.Timeout).WithTemperature(o.Temperature)
	case providerOllama:
		g = NewOllamaGenerator(ollama.New(o.BaseURL), o.Model, o.Timeout).WithTemperature(o.Temperature)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", o.Provider)
	}
	return LimitGenerator(g, NewLimiter(o.RequestsPerSecond, o.MaxRetries)), nil
}
