// Package chunker splits documents into overlapping, size-bounded chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/rolechat/internal/document"
	"github.com/kalambet/rolechat/internal/roles"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default number of characters shared by
// consecutive chunks.
const DefaultChunkOverlap = 100

// separators are tried in order when looking for a natural cut point.
var separators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// chunkNamespace scopes deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c2b0e-2f0a-4c43-9d1e-5a3b8c7d9e01")

// Chunk is a bounded slice of a document, tagged with its role and source.
type Chunk struct {
	ID       string
	Role     roles.Role
	Text     string
	Source   string
	Kind     string
	Locator  string
	Position int
}

// Chunker splits text with a sliding window measured in characters (runes).
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets how many characters consecutive chunks share.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into windows of at most Size characters. Each window ends
// at the last paragraph, line or word break it contains when one exists past
// the overlap region, otherwise at the hard size limit. The next window
// starts Overlap characters before the previous one ended, so neighbours
// share exactly Overlap characters. Text no longer than Size is returned
// whole.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	var out []string
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			return out
		}
		end = c.cutPoint(runes, start, end)
		out = append(out, string(runes[start:end]))
		start = end - c.overlap
	}
}

// cutPoint returns the end of the window [start, limit). A cut must land
// strictly after start+overlap so the next window makes progress.
func (c *Chunker) cutPoint(runes []rune, start, limit int) int {
	floor := start + c.overlap
	for _, sep := range separators {
		for i := limit - len(sep); i >= floor; i-- {
			if hasPrefixAt(runes, i, sep) {
				return i + len(sep)
			}
		}
	}
	return limit
}

func hasPrefixAt(runes []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

// Chunk splits every document and tags the pieces with role and source
// metadata. IDs are derived from role, source, locator and position, so a
// rebuild over unchanged input reproduces them.
func (c *Chunker) Chunk(docs []document.Document, role roles.Role) []Chunk {
	var out []Chunk
	for _, d := range docs {
		for pos, text := range c.Split(d.Text) {
			locator := d.Locator()
			key := fmt.Sprintf("%s\x00%s\x00%s\x00%d", role, d.Source, locator, pos)
			out = append(out, Chunk{
				ID:       uuid.NewSHA1(chunkNamespace, []byte(key)).String(),
				Role:     role,
				Text:     text,
				Source:   d.Source,
				Kind:     d.Kind.String(),
				Locator:  locator,
				Position: pos,
			})
		}
	}
	return out
}
