package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the migration creates its indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_interactions_created", "idx_interactions_session", "idx_ingest_runs_role_finished"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestSaveAndGetInteraction saves an interaction and retrieves it by ID.
func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	want := Interaction{
		ID:         "int-001",
		CreatedAt:  now,
		SessionID:  "sess-1",
		Username:   "alice",
		Role:       "engineering",
		Query:      "How do we deploy?",
		Answer:     "Through the release pipeline.",
		Model:      "openai/gpt-4o-mini",
		ChunkIDs:   `["c1","c2"]`,
		DurationMs: 420,
	}

	if err := s.SaveInteraction(want); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("int-001")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSaveInteraction_DefaultChunkIDs(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveInteraction(Interaction{ID: "i", CreatedAt: time.Now(), SessionID: "s", Role: "hr", Query: "q", Answer: "a"}); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}
	got, err := s.GetInteraction("i")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.ChunkIDs != "[]" {
		t.Errorf("ChunkIDs = %q, want []", got.ChunkIDs)
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetInteraction("missing"); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListInteractions_NewestFirstWithPaging(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("int-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			SessionID: "s",
			Role:      "finance",
			Query:     "q",
			Answer:    "a",
		})
		if err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	page, err := s.ListInteractions(2, 0)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(page) != 2 || page[0].ID != "int-4" || page[1].ID != "int-3" {
		t.Errorf("first page = %v", ids(page))
	}

	page, err = s.ListInteractions(10, 3)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(page) != 2 || page[0].ID != "int-1" || page[1].ID != "int-0" {
		t.Errorf("last page = %v", ids(page))
	}

	n, err := s.CountInteractions()
	if err != nil || n != 5 {
		t.Errorf("CountInteractions = (%d, %v), want 5", n, err)
	}
}

func ids(is []Interaction) []string {
	out := make([]string, len(is))
	for i, in := range is {
		out[i] = in.ID
	}
	return out
}

func TestSessionInteractionsAndDelete(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i, sess := range []string{"a", "b", "a"} {
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("int-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			SessionID: sess,
			Role:      "hr",
			Query:     fmt.Sprintf("q%d", i),
			Answer:    "a",
		})
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	got, err := s.SessionInteractions("a")
	if err != nil {
		t.Fatalf("SessionInteractions: %v", err)
	}
	if len(got) != 2 || got[0].Query != "q0" || got[1].Query != "q2" {
		t.Errorf("session a = %v", ids(got))
	}

	n, err := s.DeleteSessionInteractions("a")
	if err != nil {
		t.Fatalf("DeleteSessionInteractions: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if left, _ := s.CountInteractions(); left != 1 {
		t.Errorf("%d interactions left, want 1", left)
	}
}

func TestLatestIngestRuns(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	runs := []IngestRun{
		{ID: "r1", Role: "hr", Status: "failed", Reason: "embedding: timeout", StartedAt: base, FinishedAt: base.Add(time.Second)},
		{ID: "r2", Role: "hr", Status: "built", Files: 3, Documents: 4, Chunks: 12, Model: "openai/text-embedding-3-small", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second)},
		{ID: "r3", Role: "finance", Status: "skipped", Reason: "no documents", StartedAt: base, FinishedAt: base.Add(2 * time.Second)},
	}
	for _, r := range runs {
		if err := s.SaveIngestRun(r); err != nil {
			t.Fatalf("SaveIngestRun %s: %v", r.ID, err)
		}
	}

	latest, err := s.LatestIngestRuns()
	if err != nil {
		t.Fatalf("LatestIngestRuns: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d roles, want 2", len(latest))
	}
	hr := latest["hr"]
	if hr.ID != "r2" || hr.Status != "built" || hr.Chunks != 12 {
		t.Errorf("hr latest = %+v", hr)
	}
	if !hr.FinishedAt.Equal(runs[1].FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", hr.FinishedAt, runs[1].FinishedAt)
	}
	if latest["finance"].Status != "skipped" {
		t.Errorf("finance latest = %+v", latest["finance"])
	}
}
