package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/rolechat/internal/auth"
	"github.com/kalambet/rolechat/internal/chunker"
	"github.com/kalambet/rolechat/internal/composer"
	"github.com/kalambet/rolechat/internal/config"
	"github.com/kalambet/rolechat/internal/document"
	"github.com/kalambet/rolechat/internal/engine"
	"github.com/kalambet/rolechat/internal/ingest"
	"github.com/kalambet/rolechat/internal/ollama"
	"github.com/kalambet/rolechat/internal/pipeline"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/session"
	"github.com/kalambet/rolechat/internal/storage"
)

// app holds the wired query path shared by serve and mcp.
type app struct {
	cfg         config.Config
	store       *storage.Store
	directory   auth.Directory
	logins      *auth.Sessions
	retriever   *retrieval.Retriever
	transcripts *session.MemoryStore
	answerer    *pipeline.Answerer
}

func providerOptions(cfg config.Config, p config.ProviderConfig) engine.Options {
	baseURL := p.BaseURL
	if p.Provider == "ollama" && baseURL == "" {
		baseURL = cfg.Ollama.BaseURL
	}
	return engine.Options{
		Provider:          p.Provider,
		Model:             p.Model,
		BaseURL:           baseURL,
		APIKey:            p.APIKey,
		Timeout:           p.Timeout,
		Temperature:       p.Temperature,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		MaxRetries:        cfg.Limits.MaxRetries,
	}
}

// ensureOllama checks the local Ollama server when any gateway uses it and
// pulls missing models. The generation model goes first so it is warmed.
func ensureOllama(ctx context.Context, cfg config.Config, generation bool) error {
	var models []string
	if generation && cfg.Generation.Provider == "ollama" {
		models = append(models, cfg.Generation.Model)
	}
	if cfg.Embedding.Provider == "ollama" {
		models = append(models, cfg.Embedding.Model)
	}
	if len(models) == 0 {
		return nil
	}
	warm := generation && cfg.Generation.Provider == "ollama"
	return ollama.EnsureReady(ctx, ollama.New(cfg.Ollama.BaseURL), models, warm, os.Stderr)
}

func loadDirectory(cfg config.Config) (auth.Directory, error) {
	if cfg.Auth.UsersFile == "" {
		slog.Warn("no users file configured, using built-in demo users")
		return auth.DefaultDirectory(), nil
	}
	dir, err := auth.LoadDirectory(cfg.Auth.UsersFile)
	if err != nil {
		return nil, err
	}
	slog.Info("users loaded", "file", cfg.Auth.UsersFile, "count", dir.Len())
	return dir, nil
}

func newQueryEmbedder(cfg config.Config) (*retrieval.Embedder, error) {
	gw, err := engine.NewEmbedder(providerOptions(cfg, cfg.Embedding))
	if err != nil {
		return nil, fmt.Errorf("embedding gateway: %w", err)
	}
	return retrieval.NewEmbedder(gw, cfg.Embedding.BatchSize), nil
}

func newSessionStore(cfg config.Config) *session.MemoryStore {
	var policies []session.Policy
	if cfg.Session.MaxTurns > 0 {
		policies = append(policies, session.MaxTurns(cfg.Session.MaxTurns))
	}
	if cfg.Session.IdleTTL > 0 {
		policies = append(policies, session.IdleTTL(cfg.Session.IdleTTL))
	}
	return session.NewMemoryStore(session.WithPolicy(session.Policies(policies...)))
}

// newApp wires storage, auth, retrieval, sessions and generation. The
// caller must call close.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.RequireAPIKeys(); err != nil {
		return nil, err
	}
	if err := ensureOllama(ctx, cfg, true); err != nil {
		return nil, err
	}

	embedder, err := newQueryEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := engine.NewGenerator(providerOptions(cfg, cfg.Generation))
	if err != nil {
		return nil, fmt.Errorf("generation gateway: %w", err)
	}

	directory, err := loadDirectory(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Data.StateDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	retriever := retrieval.NewRetriever(cfg.Data.IndexDir, embedder.Model())
	transcripts := newSessionStore(cfg)
	answerer := pipeline.NewAnswerer(embedder, retriever, transcripts, composer.New(0), generator, cfg.Retrieval.TopK).
		WithRecorder(store)

	slog.Info("query path ready",
		"embedding_model", embedder.Model(),
		"generation_model", generator.Model(),
		"index_dir", cfg.Data.IndexDir,
		"top_k", cfg.Retrieval.TopK)

	return &app{
		cfg:         cfg,
		store:       store,
		directory:   directory,
		logins:      auth.NewSessions(auth.WithIdleTTL(cfg.Session.IdleTTL)),
		retriever:   retriever,
		transcripts: transcripts,
		answerer:    answerer,
	}, nil
}

// start launches the background loops: index hot reload, transcript expiry
// and login expiry.
func (a *app) start(ctx context.Context) {
	go func() {
		if err := a.retriever.Watch(ctx); err != nil {
			slog.Warn("index watcher stopped", "error", err)
		}
	}()
	go a.transcripts.RunJanitor(ctx, janitorInterval)
	go a.logins.RunJanitor(ctx, janitorInterval)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// newIngestPipeline wires Loader → Chunker → Embedder for the ingest command.
func newIngestPipeline(cfg config.Config, store *storage.Store) (*ingest.Pipeline, error) {
	embedder, err := newQueryEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ch := chunker.New(chunker.WithChunkSize(cfg.Chunk.Size), chunker.WithOverlap(cfg.Chunk.Overlap))
	p := ingest.NewPipeline(document.NewLoader(slog.Default()), ch, embedder, cfg.Data.DocsDir, cfg.Data.IndexDir)
	if store != nil {
		p.WithRecorder(store)
	}
	return p, nil
}
