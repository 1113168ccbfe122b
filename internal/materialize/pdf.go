package materialize

import (
	"bytes"
	"fmt"
	"strings"
)

// Paginated-document rendering. The service renders PDFs in-process from the
// markdown representation: monospaced layout is not required, only a faithful
// paginated text rendering with stable bytes for identical input.

const (
	pdfPageWidth  = 612
	pdfPageHeight = 792
	pdfMargin     = 72
	pdfFontSize   = 11
	pdfLeading    = 14
	pdfMaxCols    = 88
)

var pdfLinesPerPage = (pdfPageHeight - 2*pdfMargin) / pdfLeading

type pdfLine struct {
	text string
	bold bool
}

// renderPDF lays the markdown text out into pages and emits a minimal PDF
// document. Headings are rendered bold; all other markdown syntax is kept as
// literal text, matching what the text representation contains.
func renderPDF(markdown string) ([]byte, error) {
	lines := layoutLines(markdown)
	if len(lines) == 0 {
		lines = []pdfLine{{text: ""}}
	}

	var pages [][]pdfLine
	for start := 0; start < len(lines); start += pdfLinesPerPage {
		end := start + pdfLinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}

	return writePDF(pages)
}

// layoutLines flattens markdown into wrapped text lines.
func layoutLines(markdown string) []pdfLine {
	var out []pdfLine
	for _, raw := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(raw, " \t")
		bold := false
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "#") {
			bold = true
			line = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		if line == "" {
			out = append(out, pdfLine{text: ""})
			continue
		}
		for _, wrapped := range wrapText(line, pdfMaxCols) {
			out = append(out, pdfLine{text: wrapped, bold: bold})
		}
	}
	// Trim trailing blank lines so identical content yields identical pages.
	for len(out) > 0 && out[len(out)-1].text == "" {
		out = out[:len(out)-1]
	}
	return out
}

func wrapText(s string, cols int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= cols {
			current += " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines
}

// writePDF assembles the object graph: catalog, page tree, one page and one
// content stream per page, and the two font resources.
func writePDF(pages [][]pdfLine) ([]byte, error) {
	var buf bytes.Buffer
	var offsets []int

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	pageCount := len(pages)
	// Object layout: 1 catalog, 2 pages node, 3..3+n-1 page objects,
	// then n content streams, then the two fonts.
	firstPageObj := 3
	firstContentObj := firstPageObj + pageCount
	fontObj := firstContentObj + pageCount
	boldFontObj := fontObj + 1

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")

	var kids []string
	for i := 0; i < pageCount; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", firstPageObj+i))
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount))

	for i := 0; i < pageCount; i++ {
		writeObj(fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 %d 0 R /F2 %d 0 R >> >> /Contents %d 0 R >>",
			pdfPageWidth, pdfPageHeight, fontObj, boldFontObj, firstContentObj+i))
	}

	for _, page := range pages {
		stream := renderContentStream(page)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold >>")

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)

	return buf.Bytes(), nil
}

func renderContentStream(lines []pdfLine) string {
	var sb strings.Builder
	sb.WriteString("BT\n")
	fmt.Fprintf(&sb, "/F1 %d Tf\n%d TL\n%d %d Td\n", pdfFontSize, pdfLeading, pdfMargin, pdfPageHeight-pdfMargin)
	currentBold := false
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("T*\n")
		}
		if line.bold != currentBold {
			font := "/F1"
			if line.bold {
				font = "/F2"
			}
			fmt.Fprintf(&sb, "%s %d Tf\n", font, pdfFontSize)
			currentBold = line.bold
		}
		if line.text != "" {
			fmt.Fprintf(&sb, "(%s) Tj\n", escapePDFText(line.text))
		}
	}
	sb.WriteString("ET\n")
	return sb.String()
}

// escapePDFText escapes the characters with special meaning inside a PDF
// string literal. The fonts use the Latin-1 encoding, so every kept rune must
// land as a single byte; runes outside Latin-1 are replaced. The paginated
// rendering is a print representation, the lossless text lives in the
// markdown output.
func escapePDFText(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(byte(r))
		case r > 0xFF:
			sb.WriteByte('?')
		default:
			sb.WriteByte(byte(r))
		}
	}
	return sb.String()
}
