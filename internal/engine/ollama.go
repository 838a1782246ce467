package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/rolechat/internal/ollama"
)

const providerOllama = "ollama"

// OllamaEmbedder embeds texts with a model served by Ollama.
type OllamaEmbedder struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

// NewOllamaEmbedder creates an embedder backed by client.
func NewOllamaEmbedder(client *ollama.Client, model string, timeout time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model, timeout: timeout}
}

func (e *OllamaEmbedder) Model() string { return identity(providerOllama, e.model) }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	vecs, err := e.client.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, classifyOllama("embed", err)
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return nil, badResponse(providerOllama, "embed", "embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return vecs, nil
}

// OllamaGenerator answers chats with a model served by Ollama.
type OllamaGenerator struct {
	client      *ollama.Client
	model       string
	timeout     time.Duration
	temperature float64
}

// NewOllamaGenerator creates a generator backed by client.
func NewOllamaGenerator(client *ollama.Client, model string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model, timeout: timeout}
}

// WithTemperature sets the sampling temperature.
func (g *OllamaGenerator) WithTemperature(t float64) *OllamaGenerator {
	g.temperature = t
	return g
}

func (g *OllamaGenerator) Model() string { return identity(providerOllama, g.model) }

func (g *OllamaGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	out, err := g.client.Chat(ctx, g.model, msgs, &ollama.ChatOptions{Temperature: g.temperature})
	if err != nil {
		return "", classifyOllama("generate", err)
	}
	return out, nil
}

func classifyOllama(op string, err error) error {
	pe := &ProviderError{Provider: providerOllama, Op: op, Err: err}

	var se *ollama.StatusError
	switch {
	case errors.As(err, &se):
		pe.StatusCode = se.Code
		pe.Kind = kindForStatus(se.Code)
	case errors.Is(err, ollama.ErrMalformedResponse):
		pe.Kind = KindBadResponse
	default:
		pe.Kind = kindForTransport(err)
	}
	return pe
}
