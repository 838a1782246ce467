package engine

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const providerOpenAI = "openai"

// minTemperature stands in for a temperature of 0. go-openai omits a zero
// Temperature from the request body and the server then samples at 1.
const minTemperature = 1e-4

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{}
	return openai.NewClientWithConfig(cfg)
}

// OpenAIEmbedder calls the embeddings endpoint of OpenAI or any compatible
// server.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder. baseURL may be empty for the
// public API.
func NewOpenAIEmbedder(apiKey, baseURL, model string, timeout time.Duration) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: newOpenAIClient(apiKey, baseURL), model: model, timeout: timeout}
}

func (e *OpenAIEmbedder) Model() string { return identity(providerOpenAI, e.model) }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classifyOpenAI("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, badResponse(providerOpenAI, "embed", "got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(texts))
	dim := len(data[0].Embedding)
	for i, d := range data {
		if d.Index != i {
			return nil, badResponse(providerOpenAI, "embed", "embedding indexes are not 0..%d", len(texts)-1)
		}
		if len(d.Embedding) == 0 || len(d.Embedding) != dim {
			return nil, badResponse(providerOpenAI, "embed", "embedding %d has dimension %d, want %d", i, len(d.Embedding), dim)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// OpenAIGenerator calls the chat completions endpoint. Sampling temperature
// defaults to 0.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

// NewOpenAIGenerator creates a generator. baseURL may be empty for the
// public API.
func NewOpenAIGenerator(apiKey, baseURL, model string, timeout time.Duration) *OpenAIGenerator {
	return &OpenAIGenerator{client: newOpenAIClient(apiKey, baseURL), model: model, timeout: timeout}
}

// WithTemperature sets the sampling temperature.
func (g *OpenAIGenerator) WithTemperature(t float64) *OpenAIGenerator {
	g.temperature = float32(t)
	return g
}

func (g *OpenAIGenerator) Model() string { return identity(providerOpenAI, g.model) }

func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	temperature := g.temperature
	if temperature < minTemperature {
		temperature = minTemperature
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: temperature,
	})
	if err != nil {
		return "", classifyOpenAI("generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", badResponse(providerOpenAI, "generate", "response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAI converts a go-openai error into a *ProviderError.
func classifyOpenAI(op string, err error) error {
	pe := &ProviderError{Provider: providerOpenAI, Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Kind = kindForStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		pe.Kind = kindForStatus(reqErr.HTTPStatusCode)
	default:
		pe.Kind = kindForTransport(err)
	}
	return pe
}
