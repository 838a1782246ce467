package retrieval

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/rolechat/internal/chunker"
	"github.com/kalambet/rolechat/internal/roles"
)

// IndexFile is the name of the index database inside a role directory.
const IndexFile = "index.db"

// formatVersion is bumped when the on-disk layout changes.
const formatVersion = "1"

var (
	// ErrIndexNotFound is returned by Load when no index exists at the path.
	ErrIndexNotFound = errors.New("role index not found")
	// ErrModelMismatch is returned by Load when the index was built with a
	// different embedding model than the one configured.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrCorruptIndex is returned when an index file fails validation.
	ErrCorruptIndex = errors.New("corrupt index")
)

//go:embed schema.sql
var schemaSQL string

// RoleDir returns the directory holding a role's index under dir.
func RoleDir(dir string, role roles.Role) string {
	return filepath.Join(dir, roleDirPrefix+string(role))
}

// IndexPath returns the index database path for a role under dir.
func IndexPath(dir string, role roles.Role) string {
	return filepath.Join(RoleDir(dir, role), IndexFile)
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}
	return db, nil
}

// Persist writes the index to path. The file is built next to path and
// renamed into place, so readers never observe a partial index and a failed
// write leaves any previous index untouched.
func (x *Index) Persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := x.write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

func (x *Index) write(path string) error {
	db, err := openDB(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("creating index schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"format_version":  formatVersion,
		"role":            string(x.role),
		"embedding_model": x.model,
		"dimension":       strconv.Itoa(x.dim),
		"chunk_count":     strconv.Itoa(len(x.chunks)),
		"built_at":        time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing meta %s: %w", k, err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (position, id, role, source, kind, locator, chunk_position, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range x.chunks {
		if _, err := stmt.Exec(i, c.ID, string(c.Role), c.Source, c.Kind, c.Locator, c.Position, c.Text, encodeFloat32s(x.vectors[i])); err != nil {
			return fmt.Errorf("writing chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Info is the metadata stored with a persisted index.
type Info struct {
	Role       roles.Role
	Model      string
	Dimension  int
	ChunkCount int
	BuiltAt    time.Time
}

// Stat reads the metadata of the index at path without loading vectors.
func Stat(path string) (Info, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return Info{}, err
	}
	db, err := openDB(path)
	if err != nil {
		return Info{}, err
	}
	defer db.Close()
	return readInfo(db)
}

func readInfo(db *sql.DB) (Info, error) {
	rows, err := db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return Info{}, fmt.Errorf("%w: reading meta: %v", ErrCorruptIndex, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Info{}, fmt.Errorf("%w: scanning meta: %v", ErrCorruptIndex, err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	if meta["format_version"] != formatVersion {
		return Info{}, fmt.Errorf("%w: unsupported format version %q", ErrCorruptIndex, meta["format_version"])
	}
	role, err := roles.Parse(meta["role"])
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim <= 0 {
		return Info{}, fmt.Errorf("%w: invalid dimension %q", ErrCorruptIndex, meta["dimension"])
	}
	count, err := strconv.Atoi(meta["chunk_count"])
	if err != nil || count < 0 {
		return Info{}, fmt.Errorf("%w: invalid chunk count %q", ErrCorruptIndex, meta["chunk_count"])
	}
	if meta["embedding_model"] == "" {
		return Info{}, fmt.Errorf("%w: missing embedding model", ErrCorruptIndex)
	}
	builtAt, _ := time.Parse(time.RFC3339, meta["built_at"])

	return Info{
		Role:       role,
		Model:      meta["embedding_model"],
		Dimension:  dim,
		ChunkCount: count,
		BuiltAt:    builtAt,
	}, nil
}

// Load reads the index at path. It fails with ErrIndexNotFound when the file
// does not exist and with ErrModelMismatch when expectedModel differs from
// the model the index was built with.
func Load(path, expectedModel string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, err
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer db.Close()

	info, err := readInfo(db)
	if err != nil {
		return nil, err
	}
	if info.Model != expectedModel {
		return nil, fmt.Errorf("%w: index %s was built with %q, configured model is %q",
			ErrModelMismatch, path, info.Model, expectedModel)
	}

	rows, err := db.Query(`
		SELECT id, role, source, kind, locator, chunk_position, text, embedding
		FROM chunks ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading chunks: %v", ErrCorruptIndex, err)
	}
	defer rows.Close()

	idx := &Index{role: info.Role, model: info.Model, dim: info.Dimension}
	for rows.Next() {
		var (
			c    chunker.Chunk
			role string
			blob []byte
		)
		if err := rows.Scan(&c.ID, &role, &c.Source, &c.Kind, &c.Locator, &c.Position, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", ErrCorruptIndex, err)
		}
		c.Role = roles.Role(role)
		if c.Role != info.Role {
			return nil, fmt.Errorf("%w: chunk %s is tagged %q in a %q index", ErrCorruptIndex, c.ID, role, info.Role)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptIndex, c.ID, err)
		}
		if len(vec) != info.Dimension {
			return nil, fmt.Errorf("%w: chunk %s has dimension %d, want %d", ErrCorruptIndex, c.ID, len(vec), info.Dimension)
		}
		idx.chunks = append(idx.chunks, c)
		idx.vectors = append(idx.vectors, vec)
		idx.norms = append(idx.norms, norm(vec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if len(idx.chunks) != info.ChunkCount {
		return nil, fmt.Errorf("%w: found %d chunks, meta says %d", ErrCorruptIndex, len(idx.chunks), info.ChunkCount)
	}
	return idx, nil
}
