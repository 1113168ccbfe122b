package materialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ocrserver/internal/domain"
)

// File is a rendered output representation ready to be persisted.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Materializer converts a normalized extraction result into the requested
// output representations. Materializing the same result twice produces
// byte-identical output except for embedded timestamps, which come from the
// injected clock.
type Materializer struct {
	markdown goldmark.Markdown
	now      func() time.Time
}

// New constructs a Materializer. A nil clock defaults to time.Now.
func New(now func() time.Time) *Materializer {
	if now == nil {
		now = time.Now
	}
	return &Materializer{
		markdown: goldmark.New(goldmark.WithRendererOptions(gmhtml.WithUnsafe())),
		now:      now,
	}
}

// Materialize renders the result into the given format. baseName is the
// input filename whose stem names the output file.
func (m *Materializer) Materialize(res *domain.ExtractionResult, format domain.OutputFormat, baseName string) (File, error) {
	stem := fileStem(baseName)
	name := stem + format.Extension()

	switch format {
	case domain.FormatMarkdown:
		return File{Name: name, MIME: format.MIME(), Data: []byte(res.Markdown)}, nil
	case domain.FormatJSON:
		data, err := m.renderJSON(res, stem)
		if err != nil {
			return File{}, err
		}
		return File{Name: name, MIME: format.MIME(), Data: data}, nil
	case domain.FormatHTML:
		data, err := m.renderHTML(res, stem)
		if err != nil {
			return File{}, err
		}
		return File{Name: name, MIME: format.MIME(), Data: data}, nil
	case domain.FormatPDF:
		data, err := renderPDF(res.Markdown)
		if err != nil {
			return File{}, err
		}
		return File{Name: name, MIME: format.MIME(), Data: data}, nil
	default:
		return File{}, fmt.Errorf("%w: %q", domain.ErrInvalidFormat, format)
	}
}

type jsonDocument struct {
	Title        string         `json:"title"`
	Engine       string         `json:"engine"`
	Pages        int            `json:"pages"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Enhanced     bool           `json:"enhanced"`
	ProcessingMS int64          `json:"processing_ms"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Warnings     []string       `json:"warnings,omitempty"`
	Blocks       []domain.Block `json:"blocks"`
	Text         string         `json:"text"`
}

// renderJSON emits the hierarchical tree with extraction metadata attached.
// When the engine supplied no structure tree, blocks are derived from the
// markdown paragraphs so consumers always get a tree.
func (m *Materializer) renderJSON(res *domain.ExtractionResult, stem string) ([]byte, error) {
	doc := jsonDocument{
		Title:        documentTitle(stem),
		Engine:       res.Engine,
		Pages:        res.PageCount,
		Enhanced:     res.Enhanced,
		ProcessingMS: res.ProcessingTime.Milliseconds(),
		GeneratedAt:  m.now().UTC(),
		Warnings:     res.Warnings,
		Blocks:       res.Blocks,
		Text:         res.Markdown,
	}
	if res.Confidence >= 0 {
		c := res.Confidence
		doc.Confidence = &c
	}
	if len(doc.Blocks) == 0 {
		doc.Blocks = deriveBlocks(res.Markdown)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode json document: %w", err)
	}
	return buf.Bytes(), nil
}

const htmlHeader = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>%s</title>
<style>
body { font-family: "Times New Roman", serif; font-size: 12pt; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 1em; color: #333; }
h1, h2, h3, h4, h5, h6 { color: #222; margin-top: 1.5em; margin-bottom: 0.5em; }
table { border-collapse: collapse; width: 100%%; margin: 1em 0; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f5f5f5; font-weight: bold; }
code { background-color: #f5f5f5; padding: 2px 4px; border-radius: 3px; font-family: monospace; }
pre { background-color: #f5f5f5; padding: 1em; border-radius: 5px; overflow-x: auto; }
blockquote { border-left: 4px solid #ddd; margin: 1em 0; padding-left: 1em; color: #666; }
img { max-width: 100%%; height: auto; margin: 1em 0; }
</style>
</head>
<body>
`

// renderHTML converts the markdown representation to styled markup. The
// markup is always derived from the markdown, never re-extracted.
func (m *Materializer) renderHTML(res *domain.ExtractionResult, stem string) ([]byte, error) {
	var body bytes.Buffer
	if err := m.markdown.Convert([]byte(res.Markdown), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, htmlHeader, htmlEscape(documentTitle(stem)))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// deriveBlocks splits markdown into paragraph and heading blocks when the
// engine delivered no structure of its own. Confidence is unknown (-1).
func deriveBlocks(markdown string) []domain.Block {
	var blocks []domain.Block
	for _, chunk := range strings.Split(markdown, "\n\n") {
		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}
		blockType := domain.BlockTypeParagraph
		if strings.HasPrefix(text, "#") {
			blockType = domain.BlockTypeHeading
			text = strings.TrimSpace(strings.TrimLeft(text, "#"))
		}
		blocks = append(blocks, domain.Block{Type: blockType, Text: text, Confidence: -1})
	}
	return blocks
}

func fileStem(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	if base == "" || base == "." {
		return "document"
	}
	return base
}

func documentTitle(stem string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return cases.Title(language.Und).String(cleaned)
}

func htmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
