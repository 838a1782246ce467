// Package document turns files in a role's folder into plain-text documents
// with source metadata.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrFolderMissing is returned when a role has no document folder.
	ErrFolderMissing = errors.New("document folder missing")
	// ErrNoDocuments is returned when a role folder yields no documents.
	ErrNoDocuments = errors.New("no documents")
	// ErrUnreadable is returned when no text can be extracted from a file.
	ErrUnreadable = errors.New("no extractable text")
)

// Kind identifies the parser used for a file.
type Kind int

const (
	KindFallback Kind = iota
	KindMarkdown
	KindCSV
	KindText
	KindPDF
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindMarkdown:
		return "markdown"
	case KindCSV:
		return "csv"
	case KindText:
		return "text"
	case KindPDF:
		return "pdf"
	case KindHTML:
		return "html"
	default:
		return "fallback"
	}
}

// KindForPath maps a file extension to its parser kind. Unrecognized
// extensions map to KindFallback.
func KindForPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return KindMarkdown
	case ".csv":
		return KindCSV
	case ".txt":
		return KindText
	case ".pdf":
		return KindPDF
	case ".html", ".htm":
		return KindHTML
	default:
		return KindFallback
	}
}

// Document is the extracted text of a file, or of one page or row of it.
type Document struct {
	Text   string
	Source string
	Kind   Kind
	// Page is the 1-based PDF page, zero for unpaginated sources.
	Page int
	// Row is the 1-based CSV data row, zero for non-tabular sources.
	Row int
}

// Locator describes where in the source file the text came from.
func (d Document) Locator() string {
	switch {
	case d.Page > 0:
		return fmt.Sprintf("page %d", d.Page)
	case d.Row > 0:
		return fmt.Sprintf("row %d", d.Row)
	default:
		return ""
	}
}
