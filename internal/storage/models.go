package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered chat turn.
type Interaction struct {
	ID         string
	CreatedAt  time.Time
	SessionID  string
	Username   string
	Role       string
	Query      string
	Answer     string
	Model      string
	ChunkIDs   string // JSON array stored as text
	DurationMs int64
}

// IngestRun is the outcome of indexing one role.
type IngestRun struct {
	ID         string
	Role       string
	Status     string // "built", "skipped", "failed"
	Files      int
	Failed     int
	Documents  int
	Chunks     int
	Model      string
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}
