package document

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// parsePDF emits one document per page that carries text.
func parsePDF(path string) (docs []Document, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if p := recover(); p != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		for _, d := range single(path, KindPDF, text) {
			d.Page = i
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return nil, ErrUnreadable
	}
	return docs, nil
}
