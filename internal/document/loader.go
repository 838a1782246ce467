package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseFunc extracts documents from a single file.
type ParseFunc func(path string) ([]Document, error)

// FileError records a file that could not be loaded.
type FileError struct {
	Path string
	Err  error
}

// Result is the outcome of loading one role folder.
type Result struct {
	Documents []Document
	Loaded    int
	Failed    []FileError
}

// Loader reads role folders using one parser per file kind.
type Loader struct {
	parsers map[Kind]ParseFunc
	logger  *slog.Logger
}

// NewLoader returns a Loader with the built-in parsers registered.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		parsers: map[Kind]ParseFunc{
			KindMarkdown: parseMarkdown,
			KindCSV:      parseCSV,
			KindText:     parseText,
			KindPDF:      parsePDF,
			KindHTML:     parseHTML,
			KindFallback: parseFallback,
		},
		logger: logger,
	}
}

// LoadFile parses a single file with the parser for its kind.
func (l *Loader) LoadFile(path string) ([]Document, error) {
	kind := KindForPath(path)
	parse, ok := l.parsers[kind]
	if !ok {
		parse = parseFallback
	}
	docs, err := parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s as %s: %w", filepath.Base(path), kind, err)
	}
	return docs, nil
}

// LoadRole loads every regular file directly inside dir. Subdirectories and
// hidden files are skipped. A file that fails to parse is logged and recorded
// in Result.Failed; loading continues with the next file.
//
// ErrFolderMissing is returned when dir does not exist, ErrNoDocuments when
// nothing could be extracted. In both cases the Result is still populated.
func (l *Loader) LoadRole(ctx context.Context, role, dir string) (Result, error) {
	var res Result

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("%w: role %s: %s", ErrFolderMissing, role, dir)
		}
		return res, fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		docs, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("skipping file", "role", role, "path", path, "error", err)
			res.Failed = append(res.Failed, FileError{Path: path, Err: err})
			continue
		}
		res.Loaded++
		res.Documents = append(res.Documents, docs...)
		l.logger.Info("file loaded", "role", role, "path", path, "documents", len(docs))
	}

	l.logger.Info("role folder loaded", "role", role,
		"files", res.Loaded, "failed", len(res.Failed), "documents", len(res.Documents))

	if len(res.Documents) == 0 {
		return res, fmt.Errorf("%w: role %s", ErrNoDocuments, role)
	}
	return res, nil
}
