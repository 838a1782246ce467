// Package session keeps per-session conversation transcripts in memory.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrEmptyID is returned when a session operation is given an empty id.
var ErrEmptyID = errors.New("session id is required")

// Turn is one completed query/answer exchange.
type Turn struct {
	Query  string
	Answer string
	At     time.Time
}

// Transcript is a snapshot of a session's turns, oldest first.
type Transcript struct {
	ID         string
	Turns      []Turn
	LastActive time.Time
}

// Store holds transcripts keyed by session id.
type Store interface {
	// GetOrCreate returns a snapshot of the transcript, creating an empty
	// one if the session is new. Later appends do not affect the snapshot.
	GetOrCreate(id string) Transcript
	// Append adds a turn atomically with respect to other appends to the
	// same session.
	Append(id string, turn Turn) error
	Evict(id string)
}

type entry struct {
	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
	evicted    bool
}

// MemoryStore is a Store backed by a map. The map lock is held only for
// lookups; each session has its own lock, so sessions never contend with
// each other.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	policy   Policy
	now      func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithPolicy sets the growth policy. The default is DefaultPolicy().
func WithPolicy(p Policy) Option {
	return func(s *MemoryStore) { s.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*entry),
		policy:   DefaultPolicy(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) entry(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{lastActive: s.now()}
		s.sessions[id] = e
	}
	return e
}

func (s *MemoryStore) GetOrCreate(id string) Transcript {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return Transcript{ID: id, Turns: turns, LastActive: e.lastActive}
}

func (s *MemoryStore) Append(id string, turn Turn) error {
	if id == "" {
		return ErrEmptyID
	}
	if turn.At.IsZero() {
		turn.At = s.now()
	}
	for {
		e := s.entry(id)
		e.mu.Lock()
		if e.evicted {
			// Lost a race with Sweep or Evict; the next lookup creates a
			// fresh entry.
			e.mu.Unlock()
			continue
		}
		turns := append(e.turns, turn)
		trimmed := s.policy.Trim(turns)
		if len(trimmed) != len(turns) {
			// Copy so dropped turns do not pin the old backing array.
			trimmed = append([]Turn(nil), trimmed...)
		}
		e.turns = trimmed
		e.lastActive = s.now()
		e.mu.Unlock()
		return nil
	}
}

func (s *MemoryStore) Evict(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.evicted = true
		e.mu.Unlock()
	}
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts every session the policy reports as expired at now and
// returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	snapshot := make(map[string]*entry, len(s.sessions))
	for id, e := range s.sessions {
		snapshot[id] = e
	}
	s.mu.Unlock()

	removed := 0
	for id, e := range snapshot {
		e.mu.Lock()
		expired := !e.evicted && s.policy.Expired(e.lastActive, now)
		if expired {
			e.evicted = true
		}
		e.mu.Unlock()
		if !expired {
			continue
		}
		s.mu.Lock()
		if s.sessions[id] == e {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		removed++
	}
	return removed
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				slog.Debug("expired sessions evicted", "count", n)
			}
		}
	}
}
