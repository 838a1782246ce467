package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/rolechat/internal/metrics"
	"github.com/kalambet/rolechat/internal/roles"
)

// Retriever serves searches against persisted role indexes. Each index is
// loaded from disk on first use and cached until invalidated. Concurrent
// first requests for the same role share a single load.
type Retriever struct {
	dir   string
	model string

	mu      sync.RWMutex
	indexes map[roles.Role]*Index
	group   singleflight.Group
}

// NewRetriever creates a Retriever reading indexes under dir that must have
// been built with the given embedding model identity.
func NewRetriever(dir, model string) *Retriever {
	return &Retriever{
		dir:     dir,
		model:   model,
		indexes: make(map[roles.Role]*Index),
	}
}

// Dir returns the directory holding the role indexes.
func (r *Retriever) Dir() string { return r.dir }

// Index returns the index for role, loading it if it is not cached.
func (r *Retriever) Index(role roles.Role) (*Index, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", roles.ErrUnknownRole, role)
	}

	r.mu.RLock()
	idx, ok := r.indexes[role]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(string(role), func() (any, error) {
		r.mu.RLock()
		idx, ok := r.indexes[role]
		r.mu.RUnlock()
		if ok {
			return idx, nil
		}

		idx, err := Load(IndexPath(r.dir, role), r.model)
		if err != nil {
			metrics.IndexLoad(string(role), loadResult(err))
			return nil, err
		}
		metrics.IndexLoad(string(role), "ok")
		r.mu.Lock()
		r.indexes[role] = idx
		r.mu.Unlock()
		slog.Info("role index loaded", "role", role, "chunks", idx.Len(), "model", idx.Model())
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Retrieve returns the k chunks of role's index most similar to query.
func (r *Retriever) Retrieve(ctx context.Context, role roles.Role, query []float32, k int) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := r.Index(role)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, k)
}

// Invalidate drops the cached index for role so the next request reloads it.
func (r *Retriever) Invalidate(role roles.Role) {
	r.mu.Lock()
	_, had := r.indexes[role]
	delete(r.indexes, role)
	r.mu.Unlock()
	r.group.Forget(string(role))
	if had {
		slog.Info("role index invalidated", "role", role)
	}
}

// Available reports, for every known role, whether a loadable index exists.
func (r *Retriever) Available() map[roles.Role]bool {
	out := make(map[roles.Role]bool)
	for _, role := range roles.All() {
		_, err := r.Index(role)
		out[role] = err == nil
		if err != nil && !errors.Is(err, ErrIndexNotFound) {
			slog.Warn("role index unavailable", "role", role, "error", err)
		}
	}
	return out
}

func loadResult(err error) string {
	switch {
	case errors.Is(err, ErrIndexNotFound):
		return "not_found"
	case errors.Is(err, ErrModelMismatch):
		return "model_mismatch"
	case errors.Is(err, ErrCorruptIndex):
		return "corrupt"
	default:
		return "error"
	}
}
