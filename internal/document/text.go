package document

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func single(path string, kind Kind, text string) []Document {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Document{{Text: text, Source: path, Kind: kind}}
}

func readUTF8(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return string(data), nil
}

func parseText(path string) ([]Document, error) {
	text, err := readUTF8(path)
	if err != nil {
		return nil, err
	}
	return single(path, KindText, text), nil
}

var (
	mdFence      = regexp.MustCompile("(?m)^[ \t]*(```|~~~).*$")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*\*|__|\*|~~)([^*_~\n]+)(\*\*|__|\*|~~)`)
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	mdBullet     = regexp.MustCompile(`(?m)^([ \t]*)[-*+][ \t]+`)
	mdNewlines   = regexp.MustCompile(`\n{3,}`)
)

// stripMarkdown reduces markdown to readable text. Code block contents and
// link text are kept; markup is removed.
func stripMarkdown(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = mdFence.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "$1")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdRule.ReplaceAllString(content, "")
	content = mdBullet.ReplaceAllString(content, "$1")
	content = mdQuote.ReplaceAllString(content, "")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = mdInlineCode.ReplaceAllString(content, "$1")
	content = mdNewlines.ReplaceAllString(content, "\n\n")
	return content
}

func parseMarkdown(path string) ([]Document, error) {
	text, err := readUTF8(path)
	if err != nil {
		return nil, err
	}
	return single(path, KindMarkdown, stripMarkdown(text)), nil
}

// parseCSV emits one document per data row, rendered as "column: value"
// lines in header order.
func parseCSV(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], string(utf8BOM))
	}

	var docs []Document
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", row, err)
		}
		var b strings.Builder
		empty := true
		for i, v := range rec {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			if strings.TrimSpace(v) != "" {
				empty = false
			}
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(v))
		}
		if empty {
			continue
		}
		docs = append(docs, Document{Text: b.String(), Source: path, Kind: KindCSV, Row: row})
	}
	return docs, nil
}

// minPrintableRun is the shortest run of printable characters kept when
// extracting text from binary content.
const minPrintableRun = 4

// parseFallback is the best-effort extractor for unrecognized formats. Valid
// UTF-8 without NUL bytes is taken verbatim; anything else is reduced to its
// printable runs.
func parseFallback(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var text string
	if utf8.Valid(data) && bytes.IndexByte(data, 0) < 0 {
		text = string(data)
	} else {
		text = printableRuns(data)
	}

	docs := single(path, KindFallback, text)
	if len(docs) == 0 {
		return nil, ErrUnreadable
	}
	return docs, nil
}

func printableRuns(data []byte) string {
	var (
		runs []string
		cur  []rune
	)
	flush := func() {
		if len(cur) >= minPrintableRun {
			runs = append(runs, string(cur))
		}
		cur = cur[:0]
	}
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r != utf8.RuneError && (unicode.IsPrint(r) || r == '\t') {
			cur = append(cur, r)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(runs, "\n")
}
