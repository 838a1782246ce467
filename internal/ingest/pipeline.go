// Package ingest rebuilds the per-role vector indexes from the document
// folders.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/rolechat/internal/chunker"
	"github.com/kalambet/rolechat/internal/document"
	"github.com/kalambet/rolechat/internal/metrics"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/storage"
)

// Status is the outcome of indexing one role.
type Status string

const (
	StatusBuilt   Status = "built"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Report describes what happened to one role during a run.
type Report struct {
	Role      roles.Role
	Status    Status
	Reason    string
	Files     int
	Failed    int
	Documents int
	Chunks    int
	Duration  time.Duration
}

// BatchEmbedder embeds many texts in input order. *retrieval.Embedder
// implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// RunRecorder stores run outcomes. *storage.Store implements it.
type RunRecorder interface {
	SaveIngestRun(r storage.IngestRun) error
}

// Pipeline runs Loader → Chunker → Embedder → Build → Persist per role.
type Pipeline struct {
	loader   *document.Loader
	chunker  *chunker.Chunker
	embedder BatchEmbedder
	docsDir  string
	indexDir string
	recorder RunRecorder
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline reading role folders under docsDir and
// writing indexes under indexDir.
func NewPipeline(loader *document.Loader, ch *chunker.Chunker, embedder BatchEmbedder, docsDir, indexDir string) *Pipeline {
	return &Pipeline{
		loader:   loader,
		chunker:  ch,
		embedder: embedder,
		docsDir:  docsDir,
		indexDir: indexDir,
		logger:   slog.Default(),
	}
}

// WithRecorder makes the Pipeline store every role's outcome in r.
func (p *Pipeline) WithRecorder(r RunRecorder) *Pipeline {
	p.recorder = r
	return p
}

// Run indexes each role in turn. A role that fails never stops the others;
// its previous index, if any, is left in place. The returned reports follow
// the order of rs. A cancelled ctx stops the run and marks the remaining
// roles failed.
func (p *Pipeline) Run(ctx context.Context, rs []roles.Role) []Report {
	reports := make([]Report, 0, len(rs))
	for _, role := range rs {
		started := time.Now()
		rep := p.runRole(ctx, role)
		rep.Duration = time.Since(started)
		reports = append(reports, rep)

		attrs := []any{"role", role, "status", rep.Status, "files", rep.Files,
			"failed_files", rep.Failed, "documents", rep.Documents, "chunks", rep.Chunks}
		switch rep.Status {
		case StatusBuilt:
			p.logger.Info("role indexed", attrs...)
			metrics.IngestChunks(string(role), rep.Chunks)
		case StatusSkipped:
			p.logger.Warn("role skipped", append(attrs, "reason", rep.Reason)...)
		default:
			p.logger.Error("role failed", append(attrs, "reason", rep.Reason)...)
		}
		p.record(rep, started)
	}
	return reports
}

func (p *Pipeline) runRole(ctx context.Context, role roles.Role) Report {
	rep := Report{Role: role}
	fail := func(status Status, err error) Report {
		rep.Status = status
		rep.Reason = err.Error()
		return rep
	}
	if err := ctx.Err(); err != nil {
		return fail(StatusFailed, err)
	}

	res, err := p.loader.LoadRole(ctx, string(role), filepath.Join(p.docsDir, string(role)))
	rep.Files = res.Loaded
	rep.Failed = len(res.Failed)
	rep.Documents = len(res.Documents)
	if err != nil {
		if errors.Is(err, document.ErrFolderMissing) || errors.Is(err, document.ErrNoDocuments) {
			return fail(StatusSkipped, err)
		}
		return fail(StatusFailed, err)
	}

	chunks := p.chunker.Chunk(res.Documents, role)
	rep.Chunks = len(chunks)
	if len(chunks) == 0 {
		return fail(StatusSkipped, fmt.Errorf("%w: role %s produced no chunks", document.ErrNoDocuments, role))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	p.logger.Info("embedding chunks", "role", role, "chunks", len(chunks), "model", p.embedder.Model())
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(StatusFailed, fmt.Errorf("embedding: %w", err))
	}

	idx, err := retrieval.Build(role, p.embedder.Model(), chunks, vectors)
	if err != nil {
		return fail(StatusFailed, err)
	}
	if err := idx.Persist(retrieval.IndexPath(p.indexDir, role)); err != nil {
		return fail(StatusFailed, fmt.Errorf("persisting index: %w", err))
	}

	rep.Status = StatusBuilt
	return rep
}

func (p *Pipeline) record(rep Report, started time.Time) {
	if p.recorder == nil {
		return
	}
	err := p.recorder.SaveIngestRun(storage.IngestRun{
		ID:         uuid.NewString(),
		Role:       string(rep.Role),
		Status:     string(rep.Status),
		Files:      rep.Files,
		Failed:     rep.Failed,
		Documents:  rep.Documents,
		Chunks:     rep.Chunks,
		Model:      p.embedder.Model(),
		Reason:     rep.Reason,
		StartedAt:  started,
		FinishedAt: started.Add(rep.Duration),
	})
	if err != nil {
		p.logger.Warn("failed to record ingest run", "role", rep.Role, "error", err)
	}
}
