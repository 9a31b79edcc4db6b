package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTextLayer_Extract(t *testing.T) {
	// WHAT: A real (minimal but well-formed) PDF round-trips through the
	// text-layer backend and yields a page count.
	// WHY: pdfcpu parsing is the production path for born-digital PDFs.
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	raw := buildTextPDF("The structural method draws inferences from institutional relationships")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	tl := NewTextLayer(TextLayerConfig{})
	ex, err := tl.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ex.PageCount != 1 {
		t.Errorf("page count = %d, want 1", ex.PageCount)
	}
	if len(ex.Fragments) > 0 {
		f := ex.Fragments[0]
		if !strings.Contains(f.Text, "structural method") {
			t.Errorf("fragment text = %q", f.Text)
		}
		if f.PageNumber != 1 {
			t.Errorf("page = %d, want 1", f.PageNumber)
		}
		if f.YPosition < 0 || f.YPosition > 1 {
			t.Errorf("y position %v out of range", f.YPosition)
		}
	} else {
		t.Log("note: pdfcpu may not expose content streams for minimal PDFs")
	}
}

func TestTextLayer_MissingFile(t *testing.T) {
	tl := NewTextLayer(TextLayerConfig{})
	if _, err := tl.Extract(context.Background(), "/nonexistent.pdf"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseContentRuns_FontSizeSplit(t *testing.T) {
	// WHAT: A font-size change starts a new run with the new size.
	// WHY: Footnote blocks are detected by their smaller type; merging
	// them into the body run would erase the signal.
	stream := []byte("BT\n" +
		"/F1 12 Tf\n" +
		"72 700 Td\n" +
		"(Body paragraph text here) Tj\n" +
		"/F1 8 Tf\n" +
		"72 120 Td\n" +
		"(1 See generally the cited opinion) Tj\n" +
		"ET\n")

	runs := parseContentRuns(stream)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2: %+v", len(runs), runs)
	}
	if runs[0].size != 12 || runs[1].size != 8 {
		t.Errorf("sizes = %v, %v, want 12, 8", runs[0].size, runs[1].size)
	}
	if runs[0].maxSize != 12 || runs[1].maxSize != 12 {
		t.Errorf("max sizes = %v, %v, want 12", runs[0].maxSize, runs[1].maxSize)
	}
	if !strings.Contains(runs[1].text, "See generally") {
		t.Errorf("second run text = %q", runs[1].text)
	}
}

func TestParseContentRuns_LineContinuation(t *testing.T) {
	// WHAT: Small Td moves within a paragraph keep the text in one run.
	// WHY: A wrapped line is not a new candidate fragment.
	stream := []byte("BT\n" +
		"/F1 12 Tf\n" +
		"72 700 Td\n" +
		"(first line of the paragraph) Tj\n" +
		"0 -14 Td\n" +
		"(second line continues it) Tj\n" +
		"ET\n")

	runs := parseContentRuns(stream)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1: %+v", len(runs), runs)
	}
	if !strings.Contains(runs[0].text, "first line") || !strings.Contains(runs[0].text, "second line") {
		t.Errorf("run text = %q", runs[0].text)
	}
}

func TestMergeRuns(t *testing.T) {
	// WHAT: Adjacent runs at the same size within the gap merge; a size
	// change or a large jump does not.
	runs := []textRun{
		{text: "a", y: 700, size: 12},
		{text: "b", y: 690, size: 12},
		{text: "c", y: 120, size: 12},
		{text: "d", y: 110, size: 8},
	}
	out := mergeRuns(runs, 20)
	if len(out) != 3 {
		t.Fatalf("got %d runs, want 3: %+v", len(out), out)
	}
	if out[0].text != "a b" {
		t.Errorf("merged text = %q, want %q", out[0].text, "a b")
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, "plain"},
		{`with \( parens \)`, "with ( parens )"},
		{`octal\040space`, "octal space"},
		{`tab\there`, "tab\there"},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("decodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// buildTextPDF creates a valid single-page PDF with proper xref offsets.
func buildTextPDF(text string) []byte {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "(", `\(`)
	escaped = strings.ReplaceAll(escaped, ")", `\)`)

	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length ")
	b.WriteString(itoa(len(stream)))
	b.WriteString(" >>\nstream\n")
	b.WriteString(stream)
	b.WriteString("\nendstream\nendobj\n")

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		b.WriteString(padOffset(offsets[i]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n")
	b.WriteString(itoa(xrefOffset))
	b.WriteString("\n%%EOF\n")

	return []byte(b.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func padOffset(n int) string {
	s := itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}
