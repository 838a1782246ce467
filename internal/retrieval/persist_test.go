package retrieval

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/rolechat/internal/roles"
)

func persistedIndex(t *testing.T, dir string, role roles.Role, model string) *Index {
	t.Helper()
	idx, err := Build(role, model, testChunks(role, 3), [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := idx.Persist(IndexPath(dir, role)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return idx
}

func TestPersistLoad_PreservesSearch(t *testing.T) {
	dir := t.TempDir()
	orig := persistedIndex(t, dir, roles.Engineering, "openai/text-embedding-3-small")

	loaded, err := Load(IndexPath(dir, roles.Engineering), "openai/text-embedding-3-small")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Role() != roles.Engineering || loaded.Len() != 3 || loaded.Dimension() != 3 {
		t.Fatalf("loaded role=%s len=%d dim=%d", loaded.Role(), loaded.Len(), loaded.Dimension())
	}

	q := []float32{0.2, 0.9, 0.1}
	want, _ := orig.Search(q, 3)
	got, err := loaded.Search(q, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := range want {
		if got[i].Chunk != want[i].Chunk || got[i].Score != want[i].Score {
			t.Errorf("result %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPersist_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	persistedIndex(t, dir, roles.HR, "test/model")
	persistedIndex(t, dir, roles.HR, "test/model")

	entries, err := os.ReadDir(RoleDir(dir, roles.HR))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != IndexFile {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("role dir contains %v, want only %s", names, IndexFile)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(IndexPath(t.TempDir(), roles.Finance), "test/model")
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("got %v, want ErrIndexNotFound", err)
	}
}

func TestLoad_ModelMismatch(t *testing.T) {
	dir := t.TempDir()
	persistedIndex(t, dir, roles.Finance, "openai/text-embedding-3-small")

	_, err := Load(IndexPath(dir, roles.Finance), "ollama/nomic-embed-text")
	if !errors.Is(err, ErrModelMismatch) {
		t.Errorf("got %v, want ErrModelMismatch", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := IndexPath(dir, roles.General)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, "test/model")
	if err == nil {
		t.Fatal("expected error for garbage index file")
	}
	if errors.Is(err, ErrIndexNotFound) {
		t.Error("garbage file reported as missing")
	}
}

func TestLoad_TruncatedVector(t *testing.T) {
	dir := t.TempDir()
	persistedIndex(t, dir, roles.Marketing, "test/model")
	path := IndexPath(dir, roles.Marketing)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE chunks SET embedding = ? WHERE position = 1`, []byte{0, 0, 128, 63}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Load(path, "test/model"); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("got %v, want ErrCorruptIndex", err)
	}
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	persistedIndex(t, dir, roles.HR, "test/model")

	info, err := Stat(IndexPath(dir, roles.HR))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Role != roles.HR || info.Model != "test/model" || info.ChunkCount != 3 || info.Dimension != 3 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.BuiltAt.IsZero() {
		t.Error("BuiltAt not recorded")
	}
}
