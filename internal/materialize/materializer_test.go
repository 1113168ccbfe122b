package materialize

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ocrserver/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func sampleResult() *domain.ExtractionResult {
	return &domain.ExtractionResult{
		Markdown:       "# Invoice 42\n\nTotal **due**: 100 EUR\n\nThanks for your business.",
		PageCount:      2,
		Confidence:     0.92,
		ProcessingTime: 1500 * time.Millisecond,
		Engine:         "marker",
	}
}

func TestMaterializeMarkdownPassesThrough(t *testing.T) {
	m := New(fixedNow)
	file, err := m.Materialize(sampleResult(), domain.FormatMarkdown, "invoice-42.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if file.Name != "invoice-42.md" {
		t.Fatalf("name = %q, want invoice-42.md", file.Name)
	}
	if string(file.Data) != sampleResult().Markdown {
		t.Fatalf("markdown output was altered: %q", file.Data)
	}
}

func TestMaterializeHTMLDerivedFromMarkdown(t *testing.T) {
	m := New(fixedNow)
	file, err := m.Materialize(sampleResult(), domain.FormatHTML, "invoice-42.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	html := string(file.Data)
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Invoice 42</title>",
		"<h1>Invoice 42</h1>",
		"<strong>due</strong>",
		"</html>",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("html output missing %q:\n%s", want, html)
		}
	}
}

func TestMaterializeJSONCarriesMetadataAndDerivedBlocks(t *testing.T) {
	m := New(fixedNow)
	file, err := m.Materialize(sampleResult(), domain.FormatJSON, "invoice-42.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	var doc struct {
		Title        string         `json:"title"`
		Engine       string         `json:"engine"`
		Pages        int            `json:"pages"`
		Confidence   *float64       `json:"confidence"`
		ProcessingMS int64          `json:"processing_ms"`
		GeneratedAt  time.Time      `json:"generated_at"`
		Blocks       []domain.Block `json:"blocks"`
		Text         string         `json:"text"`
	}
	if err := json.Unmarshal(file.Data, &doc); err != nil {
		t.Fatalf("unmarshal json output: %v", err)
	}
	if doc.Title != "Invoice 42" {
		t.Fatalf("title = %q", doc.Title)
	}
	if doc.Engine != "marker" || doc.Pages != 2 || doc.ProcessingMS != 1500 {
		t.Fatalf("metadata = %+v", doc)
	}
	if doc.Confidence == nil || *doc.Confidence != 0.92 {
		t.Fatalf("confidence = %v", doc.Confidence)
	}
	if !doc.GeneratedAt.Equal(fixedNow()) {
		t.Fatalf("generated_at = %v, want injected clock", doc.GeneratedAt)
	}
	if len(doc.Blocks) != 3 {
		t.Fatalf("derived blocks = %d, want 3", len(doc.Blocks))
	}
	if doc.Blocks[0].Type != domain.BlockTypeHeading || doc.Blocks[0].Text != "Invoice 42" {
		t.Fatalf("first block = %+v, want heading", doc.Blocks[0])
	}
	if doc.Blocks[1].Type != domain.BlockTypeParagraph {
		t.Fatalf("second block = %+v, want paragraph", doc.Blocks[1])
	}
}

func TestMaterializeJSONKeepsEngineBlocks(t *testing.T) {
	m := New(fixedNow)
	res := sampleResult()
	res.Blocks = []domain.Block{{Type: domain.BlockTypeTable, Text: "a|b", Page: 1, Confidence: 0.8}}

	file, err := m.Materialize(res, domain.FormatJSON, "doc.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	var doc struct {
		Blocks []domain.Block `json:"blocks"`
	}
	if err := json.Unmarshal(file.Data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Blocks) != 1 || doc.Blocks[0].Type != domain.BlockTypeTable {
		t.Fatalf("blocks = %+v, want engine-provided table kept", doc.Blocks)
	}
}

func TestMaterializeJSONOmitsUnknownConfidence(t *testing.T) {
	m := New(fixedNow)
	res := sampleResult()
	res.Confidence = -1

	file, err := m.Materialize(res, domain.FormatJSON, "doc.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if bytes.Contains(file.Data, []byte(`"confidence"`)) {
		t.Fatalf("unknown confidence should be omitted:\n%s", file.Data)
	}
}

func TestMaterializePDFHasValidHeader(t *testing.T) {
	m := New(fixedNow)
	file, err := m.Materialize(sampleResult(), domain.FormatPDF, "invoice-42.pdf")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !bytes.HasPrefix(file.Data, []byte("%PDF-1.")) {
		t.Fatalf("pdf output missing header: %q", file.Data[:16])
	}
	if !bytes.Contains(file.Data, []byte("%%EOF")) {
		t.Fatalf("pdf output missing trailer")
	}
	if file.MIME != "application/pdf" {
		t.Fatalf("mime = %q", file.MIME)
	}
}

func TestMaterializeIsDeterministic(t *testing.T) {
	m := New(fixedNow)
	for _, format := range domain.AllFormats {
		a, err := m.Materialize(sampleResult(), format, "doc.pdf")
		if err != nil {
			t.Fatalf("Materialize(%s) first: %v", format, err)
		}
		b, err := m.Materialize(sampleResult(), format, "doc.pdf")
		if err != nil {
			t.Fatalf("Materialize(%s) second: %v", format, err)
		}
		if !bytes.Equal(a.Data, b.Data) {
			t.Fatalf("format %s is not deterministic under a fixed clock", format)
		}
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report"},
		{"dir/report.final.pdf", "report.final"},
		{"scan", "scan"},
		{"", "document"},
		{".pdf", "document"},
	}
	for _, tc := range tests {
		if got := fileStem(tc.in); got != tc.want {
			t.Fatalf("fileStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
