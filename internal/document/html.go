package document

import (
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// skippedTags hold no visible text.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "svg": true, "template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "section": true, "article": true,
}

func parseHTML(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := extractHTMLText(f)
	if err != nil {
		return nil, err
	}
	return single(path, KindHTML, text), nil
}

// extractHTMLText returns the visible text of an HTML stream with block
// elements separated by line breaks.
func extractHTMLText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return tidyLines(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func tidyLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
