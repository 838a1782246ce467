package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the interaction log and ingest history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "rolechat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// --- Interactions ---

const interactionColumns = `id, created_at, session_id, username, role, query, answer, model, chunk_ids, duration_ms`

func (s *Store) SaveInteraction(i Interaction) error {
	chunkIDs := i.ChunkIDs
	if chunkIDs == "" {
		chunkIDs = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(timeFormat), i.SessionID, i.Username, i.Role,
		i.Query, i.Answer, i.Model, chunkIDs, i.DurationMs,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := row.Scan(&i.ID, &createdAt, &i.SessionID, &i.Username, &i.Role, &i.Query, &i.Answer, &i.Model, &i.ChunkIDs, &i.DurationMs); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// ListInteractions returns interactions newest first.
func (s *Store) ListInteractions(limit, offset int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT `+interactionColumns+`
		FROM interactions ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// SessionInteractions returns a session's interactions oldest first.
func (s *Store) SessionInteractions(sessionID string) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT `+interactionColumns+`
		FROM interactions WHERE session_id = ? ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func (s *Store) CountInteractions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions`).Scan(&n)
	return n, err
}

// DeleteSessionInteractions removes every interaction of a session and
// returns how many were deleted.
func (s *Store) DeleteSessionInteractions(sessionID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Ingest runs ---

func (s *Store) SaveIngestRun(r IngestRun) error {
	_, err := s.db.Exec(`
		INSERT INTO ingest_runs (id, role, status, files, failed, documents, chunks, model, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Role, r.Status, r.Files, r.Failed, r.Documents, r.Chunks, r.Model, r.Reason,
		r.StartedAt.UTC().Format(timeFormat), r.FinishedAt.UTC().Format(timeFormat),
	)
	return err
}

// LatestIngestRuns returns the most recent run per role.
func (s *Store) LatestIngestRuns() (map[string]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, role, status, files, failed, documents, chunks, model, reason, started_at, finished_at
		FROM ingest_runs ORDER BY finished_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[string]IngestRun)
	for rows.Next() {
		var r IngestRun
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.Role, &r.Status, &r.Files, &r.Failed, &r.Documents, &r.Chunks, &r.Model, &r.Reason, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeFormat, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
		}
		latest[r.Role] = r
	}
	return latest, rows.Err()
}
