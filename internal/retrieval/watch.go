package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/kalambet/rolechat/internal/roles"
)

const roleDirPrefix = "vectorstore_"

// roleForPath maps an event path under the index dir to the role whose index
// it belongs to. Only the index file itself counts; temp files are ignored.
func roleForPath(path string) (roles.Role, bool) {
	if filepath.Base(path) != IndexFile {
		return "", false
	}
	dir := filepath.Base(filepath.Dir(path))
	if !strings.HasPrefix(dir, roleDirPrefix) {
		return "", false
	}
	role, err := roles.Parse(strings.TrimPrefix(dir, roleDirPrefix))
	if err != nil {
		return "", false
	}
	return role, true
}

// Watch invalidates cached indexes when their files are replaced on disk,
// for example by an ingest run in another process. It blocks until ctx is
// done.
func (r *Retriever) Watch(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}
	for _, role := range roles.All() {
		dir := RoleDir(r.dir, role)
		if _, err := os.Stat(dir); err == nil {
			if err := w.Add(dir); err != nil {
				slog.Warn("index watch failed", "dir", dir, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			r.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("index watcher error", "error", err)
		}
	}
}

func (r *Retriever) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(r.dir) &&
		strings.HasPrefix(filepath.Base(ev.Name), roleDirPrefix) {
		if err := w.Add(ev.Name); err != nil {
			slog.Warn("index watch failed", "dir", ev.Name, "error", err)
		}
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if role, ok := roleForPath(ev.Name); ok {
		r.Invalidate(role)
	}
}
