// Package engine provides the embedding and generation gateways. Every
// provider failure surfaces as a *ProviderError with a distinct Kind.
package engine

import "context"

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder converts texts to vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the provider and model that produced the vectors.
	// Indexes record it so vectors from different models are never mixed.
	Model() string
}

// Generator produces an assistant reply for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Model() string
}

func identity(provider, model string) string {
	return provider + "/" + model
}
