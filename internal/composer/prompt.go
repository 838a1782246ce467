package composer

import (
	"sort"
	"strings"

	"github.com/kalambet/rolechat/internal/engine"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/session"
)

const defaultMaxContextTokens = 4000

// Instruction is the fixed system instruction that precedes the context.
const Instruction = "Use the given context to answer the question. " +
	"If you don't know the answer, say you don't know. " +
	"Use three sentence maximum and keep the answer concise."

// Composer assembles the generation prompt from retrieved chunks, the
// session history and the new query.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the messages for one generation call: a system message
// with the instruction and context, then history as alternating user and
// assistant turns, then query.
func (c *Composer) Compose(chunks []retrieval.Scored, history []session.Turn, query string) []engine.Message {
	msgs := make([]engine.Message, 0, 2+2*len(history))
	msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: c.systemPrompt(chunks)})
	for _, t := range history {
		msgs = append(msgs,
			engine.Message{Role: engine.RoleUser, Content: t.Query},
			engine.Message{Role: engine.RoleAssistant, Content: t.Answer},
		)
	}
	return append(msgs, engine.Message{Role: engine.RoleUser, Content: query})
}

// systemPrompt concatenates chunk texts under the token budget, dropping
// lowest-scoring chunks first. Selected chunks keep their retrieval order.
func (c *Composer) systemPrompt(chunks []retrieval.Scored) string {
	contexts := c.selectChunks(chunks)

	var sb strings.Builder
	sb.WriteString(Instruction)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(strings.Join(contexts, "\n\n"))
	return sb.String()
}

func (c *Composer) selectChunks(chunks []retrieval.Scored) []string {
	if len(chunks) == 0 {
		return nil
	}

	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunks[order[a]].Score > chunks[order[b]].Score
	})

	remaining := c.MaxContextTokens
	keep := make([]bool, len(chunks))
	for _, i := range order {
		tokens := EstimateTokens(chunks[i].Chunk.Text)
		if tokens > remaining {
			continue
		}
		keep[i] = true
		remaining -= tokens
	}

	var out []string
	for i, ch := range chunks {
		if keep[i] {
			out = append(out, ch.Chunk.Text)
		}
	}
	return out
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
