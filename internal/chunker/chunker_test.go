package chunker

import (
	"strings"
	"testing"

	"github.com/kalambet/rolechat/internal/document"
	"github.com/kalambet/rolechat/internal/roles"
)

func checkWindows(t *testing.T, c *Chunker, text string, chunks []string) {
	t.Helper()
	L := len([]rune(text))
	size, overlap := c.Size(), c.Overlap()

	want := 1
	if L > size {
		want = (L - overlap + (size - overlap) - 1) / (size - overlap)
	}
	if len(chunks) < want {
		t.Errorf("got %d chunks for length %d, want at least %d", len(chunks), L, want)
	}

	var rebuilt []rune
	for i, ch := range chunks {
		r := []rune(ch)
		if len(r) > size {
			t.Errorf("chunk %d has %d chars, want <= %d", i, len(r), size)
		}
		if i == 0 {
			rebuilt = append(rebuilt, r...)
			continue
		}
		prev := []rune(chunks[i-1])
		if len(prev) < overlap || len(r) < overlap {
			t.Fatalf("chunk %d or its predecessor is shorter than the overlap", i)
		}
		if string(prev[len(prev)-overlap:]) != string(r[:overlap]) {
			t.Errorf("chunks %d and %d do not share exactly %d chars", i-1, i, overlap)
		}
		rebuilt = append(rebuilt, r[overlap:]...)
	}
	if string(rebuilt) != text {
		t.Error("chunks do not reassemble into the original text")
	}
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	c := New()
	text := strings.Repeat("a", 450)
	got := c.Split(text)
	if len(got) != 1 || got[0] != text {
		t.Fatalf("Split returned %d chunks, want the whole text as one", len(got))
	}
}

func TestSplit_Empty(t *testing.T) {
	if got := New().Split("  \n\t "); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplit_HardCut(t *testing.T) {
	c := New(WithChunkSize(10), WithOverlap(3))
	text := strings.Repeat("x", 30)
	got := c.Split(text)
	// starts at 0, 7, 14, 21; the window at 21 reaches the end
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %q", len(got), got)
	}
	checkWindows(t, c, text, got)
}

func TestSplit_CountBound(t *testing.T) {
	c := New(WithChunkSize(500), WithOverlap(100))
	text := strings.Repeat("x", 900)
	got := c.Split(text)
	// [0,500) and [400,900): ceil((900-100)/(500-100)) = 2
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	checkWindows(t, c, text, got)
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	c := New(WithChunkSize(40), WithOverlap(5))
	text := "First paragraph here.\n\nSecond one follows with more words in it."
	got := c.Split(text)
	if !strings.HasSuffix(got[0], "\n\n") {
		t.Errorf("first chunk %q should end at the paragraph break", got[0])
	}
	checkWindows(t, c, text, got)
}

func TestSplit_PrefersLineThenWord(t *testing.T) {
	c := New(WithChunkSize(20), WithOverlap(4))

	lines := "alpha beta\ngamma delta epsilon zeta"
	got := c.Split(lines)
	if got[0] != "alpha beta\n" {
		t.Errorf("first chunk = %q, want line break cut", got[0])
	}
	checkWindows(t, c, lines, got)

	words := "one two three four five six seven"
	got = c.Split(words)
	if !strings.HasSuffix(got[0], " ") {
		t.Errorf("first chunk = %q, want word break cut", got[0])
	}
	checkWindows(t, c, words, got)
}

func TestSplit_Deterministic(t *testing.T) {
	c := New(WithChunkSize(50), WithOverlap(10))
	text := strings.Repeat("The quick brown fox jumps.\nOver the lazy dog. ", 20)
	a, b := c.Split(text), c.Split(text)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Error("Split is not deterministic")
	}
	checkWindows(t, c, text, a)
}

func TestSplit_MultibyteRunes(t *testing.T) {
	c := New(WithChunkSize(8), WithOverlap(2))
	text := "héllo wörld ünïcode tëxt"
	checkWindows(t, c, text, c.Split(text))
}

func TestSplit_Properties(t *testing.T) {
	corpus := strings.Repeat("Lorem ipsum dolor sit amet, consectetur.\n\nSed do eiusmod\ntempor incididunt ut labore. ", 15)
	for _, cfg := range []struct{ size, overlap int }{
		{500, 100}, {100, 0}, {64, 63}, {37, 11}, {10, 9},
	} {
		c := New(WithChunkSize(cfg.size), WithOverlap(cfg.overlap))
		checkWindows(t, c, corpus, c.Split(corpus))
	}
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(100))
	if c.Overlap() != 25 {
		t.Errorf("Overlap = %d, want 25", c.Overlap())
	}
}

func TestChunk_TagsMetadata(t *testing.T) {
	c := New(WithChunkSize(20), WithOverlap(5))
	docs := []document.Document{
		{Text: "short", Source: "a.txt", Kind: document.KindText},
		{Text: "rent: 100\namount: due monthly on the first", Source: "b.csv", Kind: document.KindCSV, Row: 2},
	}
	chunks := c.Chunk(docs, roles.Finance)
	if len(chunks) < 3 {
		t.Fatalf("len = %d, want >= 3", len(chunks))
	}
	for _, ch := range chunks {
		if ch.Role != roles.Finance {
			t.Errorf("chunk role = %s", ch.Role)
		}
		if ch.ID == "" {
			t.Error("empty chunk id")
		}
	}
	if chunks[1].Locator != "row 2" || chunks[1].Kind != "csv" || chunks[1].Position != 0 {
		t.Errorf("csv chunk metadata = %+v", chunks[1])
	}

	again := c.Chunk(docs, roles.Finance)
	for i := range chunks {
		if chunks[i].ID != again[i].ID {
			t.Fatalf("chunk %d id changed between runs", i)
		}
	}
	other := c.Chunk(docs, roles.HR)
	if other[0].ID == chunks[0].ID {
		t.Error("ids must differ across roles")
	}
}
