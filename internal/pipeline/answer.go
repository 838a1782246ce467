// Package pipeline answers role-scoped questions: it embeds the query,
// retrieves context from the role's index, and generates a reply that takes
// the session's history into account.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/rolechat/internal/composer"
	"github.com/kalambet/rolechat/internal/engine"
	"github.com/kalambet/rolechat/internal/metrics"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/session"
	"github.com/kalambet/rolechat/internal/storage"
)

// FallbackAnswer is returned when generation fails or yields nothing.
const FallbackAnswer = "Sorry, I couldn't generate a response."

const defaultTopK = 4

var (
	// ErrEmbedding wraps a failure to embed the user's query.
	ErrEmbedding = errors.New("query embedding failed")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is required")
)

// QueryEmbedder embeds a single query text. *retrieval.Embedder implements it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Searcher returns the chunks of a role's index closest to a vector.
// *retrieval.Retriever implements it.
type Searcher interface {
	Retrieve(ctx context.Context, role roles.Role, query []float32, k int) ([]retrieval.Scored, error)
}

// Recorder persists answered interactions. *storage.Store implements it.
type Recorder interface {
	SaveInteraction(i storage.Interaction) error
}

// Request is one chat query.
type Request struct {
	Query     string
	Role      roles.Role
	SessionID string
	Username  string
}

// Source identifies a chunk used as context for an answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Locator string  `json:"locator,omitempty"`
	Score   float32 `json:"score"`
}

// Result is the outcome of Answer.
type Result struct {
	Answer     string
	Fallback   bool
	Sources    []Source
	DurationMs int64
}

// Answerer wires the query path together.
type Answerer struct {
	embedder  QueryEmbedder
	searcher  Searcher
	sessions  session.Store
	composer  *composer.Composer
	generator engine.Generator
	recorder  Recorder
	topK      int
}

// NewAnswerer creates an Answerer. topK controls how many chunks are
// retrieved (default 4 if <= 0).
func NewAnswerer(
	embedder QueryEmbedder,
	searcher Searcher,
	sessions session.Store,
	comp *composer.Composer,
	generator engine.Generator,
	topK int,
) *Answerer {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Answerer{
		embedder:  embedder,
		searcher:  searcher,
		sessions:  sessions,
		composer:  comp,
		generator: generator,
		topK:      topK,
	}
}

// WithRecorder makes the Answerer log every answered turn to r.
func (a *Answerer) WithRecorder(r Recorder) *Answerer {
	a.recorder = r
	return a
}

// Sessions returns the transcript store.
func (a *Answerer) Sessions() session.Store { return a.sessions }

// Search embeds query and returns up to limit chunks from role's index.
func (a *Answerer) Search(ctx context.Context, role roles.Role, query string, limit int) ([]retrieval.Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", roles.ErrUnknownRole, role)
	}
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return a.searcher.Retrieve(ctx, role, vec, limit)
}

// Answer runs the query path:
//  1. Embed the query (failure is ErrEmbedding)
//  2. Retrieve the top-K chunks of the role's index
//  3. Snapshot the session transcript
//  4. Compose and generate
//
// A generation failure or an empty reply yields FallbackAnswer and leaves the
// transcript unchanged. Only successful answers are appended and recorded.
func (a *Answerer) Answer(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.SessionID == "" {
		return Result{}, session.ErrEmptyID
	}

	chunks, err := a.Search(ctx, req.Role, req.Query, a.topK)
	if err != nil {
		metrics.ChatRequest(string(req.Role), outcomeFor(err))
		return Result{}, err
	}

	history := a.sessions.GetOrCreate(req.SessionID)
	msgs := a.composer.Compose(chunks, history.Turns, req.Query)

	res := Result{Sources: sourcesOf(chunks)}
	answer, err := a.generator.Generate(ctx, msgs)
	answer = strings.TrimSpace(answer)
	switch {
	case err != nil:
		slog.Warn("generation failed, returning fallback", "role", req.Role, "session", req.SessionID, "error", err)
		res.Answer, res.Fallback = FallbackAnswer, true
	case answer == "":
		slog.Warn("generation returned an empty answer, returning fallback", "role", req.Role, "session", req.SessionID)
		res.Answer, res.Fallback = FallbackAnswer, true
	default:
		res.Answer = answer
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.ObserveAnswer(time.Since(start))
	if res.Fallback {
		metrics.ChatRequest(string(req.Role), metrics.OutcomeFallback)
		return res, nil
	}
	metrics.ChatRequest(string(req.Role), metrics.OutcomeAnswered)

	if err := a.sessions.Append(req.SessionID, session.Turn{Query: req.Query, Answer: answer}); err != nil {
		return Result{}, fmt.Errorf("recording turn: %w", err)
	}
	a.record(req, res)

	slog.Debug("answer generated",
		"role", req.Role,
		"session", req.SessionID,
		"chunks_used", len(chunks),
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// record writes the interaction log entry. Failures are logged only.
func (a *Answerer) record(req Request, res Result) {
	if a.recorder == nil {
		return
	}
	ids := make([]string, len(res.Sources))
	for i, s := range res.Sources {
		ids[i] = s.ChunkID
	}
	idsJSON, _ := json.Marshal(ids)
	err := a.recorder.SaveInteraction(storage.Interaction{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		SessionID:  req.SessionID,
		Username:   req.Username,
		Role:       string(req.Role),
		Query:      req.Query,
		Answer:     res.Answer,
		Model:      a.generator.Model(),
		ChunkIDs:   string(idsJSON),
		DurationMs: res.DurationMs,
	})
	if err != nil {
		slog.Warn("failed to record interaction", "session", req.SessionID, "error", err)
	}
}

func sourcesOf(chunks []retrieval.Scored) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{
			ChunkID: c.Chunk.ID,
			Source:  c.Chunk.Source,
			Locator: c.Chunk.Locator,
			Score:   c.Score,
		}
	}
	return out
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrEmbedding):
		return metrics.OutcomeEmbedFailed
	case errors.Is(err, retrieval.ErrIndexNotFound):
		return metrics.OutcomeNoIndex
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, roles.ErrUnknownRole):
		return metrics.OutcomeBadRequest
	default:
		return metrics.OutcomeError
	}
}
