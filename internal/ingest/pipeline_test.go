package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/rolechat/internal/chunker"
	"github.com/kalambet/rolechat/internal/document"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/storage"
)

// mockEmbedder implements BatchEmbedder for testing.
type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, texts)
}
func (m *mockEmbedder) Model() string { return "mock/embed" }

type mockRecorder struct {
	runs []storage.IngestRun
}

func (m *mockRecorder) SaveIngestRun(r storage.IngestRun) error {
	m.runs = append(m.runs, r)
	return nil
}

func lengthEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = []float32{float32(len(t)), 1}
		}
		return out, nil
	}}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestPipeline(docs, idx string, e BatchEmbedder) *Pipeline {
	return NewPipeline(document.NewLoader(nil), chunker.New(chunker.WithChunkSize(50), chunker.WithOverlap(10)), e, docs, idx)
}

func TestRun_BuildsAndSkips(t *testing.T) {
	docs, idx := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(docs, "engineering", "deploy.md"), "# Deploys\n\nWe deploy every Tuesday through the release train.")
	writeFile(t, filepath.Join(docs, "engineering", "oncall.txt"), "The on-call rotation changes weekly.")
	writeFile(t, filepath.Join(docs, "hr", ".hidden"), "ignored")

	rec := &mockRecorder{}
	p := newTestPipeline(docs, idx, lengthEmbedder()).WithRecorder(rec)
	reports := p.Run(context.Background(), []roles.Role{roles.Engineering, roles.HR, roles.Finance})

	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	eng := reports[0]
	if eng.Status != StatusBuilt || eng.Files != 2 || eng.Chunks == 0 {
		t.Errorf("engineering report = %+v", eng)
	}
	if reports[1].Status != StatusSkipped || !strings.Contains(reports[1].Reason, "no documents") {
		t.Errorf("hr report = %+v", reports[1])
	}
	if reports[2].Status != StatusSkipped {
		t.Errorf("finance report = %+v", reports[2])
	}

	loaded, err := retrieval.Load(retrieval.IndexPath(idx, roles.Engineering), "mock/embed")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != eng.Chunks {
		t.Errorf("index has %d chunks, report says %d", loaded.Len(), eng.Chunks)
	}
	for _, c := range loaded.Chunks() {
		if c.Role != roles.Engineering {
			t.Errorf("chunk %s tagged %s", c.ID, c.Role)
		}
	}
	if _, err := retrieval.Load(retrieval.IndexPath(idx, roles.HR), "mock/embed"); !errors.Is(err, retrieval.ErrIndexNotFound) {
		t.Errorf("skipped role has an index: %v", err)
	}

	if len(rec.runs) != 3 || rec.runs[0].Status != "built" || rec.runs[1].Status != "skipped" {
		t.Errorf("recorded runs = %+v", rec.runs)
	}
}

func TestRun_EmbeddingFailureKeepsPreviousIndex(t *testing.T) {
	docs, idx := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(docs, "finance", "budget.txt"), "Budget approvals need two signatures.")

	if reps := newTestPipeline(docs, idx, lengthEmbedder()).Run(context.Background(), []roles.Role{roles.Finance}); reps[0].Status != StatusBuilt {
		t.Fatalf("first run = %+v", reps[0])
	}
	before, err := retrieval.Load(retrieval.IndexPath(idx, roles.Finance), "mock/embed")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(docs, "finance", "more.txt"), "Quarterly forecasts are due in March.")
	failing := &mockEmbedder{embedFn: func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("provider unavailable")
	}}
	reps := newTestPipeline(docs, idx, failing).Run(context.Background(), []roles.Role{roles.Finance, roles.HR})
	if reps[0].Status != StatusFailed || !strings.Contains(reps[0].Reason, "provider unavailable") {
		t.Errorf("finance report = %+v", reps[0])
	}
	if reps[1].Status != StatusSkipped {
		t.Errorf("run stopped after failure: %+v", reps[1])
	}

	after, err := retrieval.Load(retrieval.IndexPath(idx, roles.Finance), "mock/embed")
	if err != nil {
		t.Fatalf("previous index lost: %v", err)
	}
	if after.Len() != before.Len() {
		t.Errorf("index changed after failed rebuild: %d -> %d chunks", before.Len(), after.Len())
	}
}

func TestRun_BadFileDoesNotAbortRole(t *testing.T) {
	docs, idx := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(docs, "general", "ok.txt"), "Office hours are nine to five.")
	writeFile(t, filepath.Join(docs, "general", "broken.txt"), string([]byte{0xff, 0xfe, 0xfd}))

	reps := newTestPipeline(docs, idx, lengthEmbedder()).Run(context.Background(), []roles.Role{roles.General})
	if reps[0].Status != StatusBuilt || reps[0].Files != 1 || reps[0].Failed != 1 {
		t.Errorf("report = %+v", reps[0])
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reps := newTestPipeline(t.TempDir(), t.TempDir(), lengthEmbedder()).Run(ctx, []roles.Role{roles.HR, roles.Finance})
	for _, r := range reps {
		if r.Status != StatusFailed {
			t.Errorf("%s: status %s, want failed", r.Role, r.Status)
		}
	}
}
