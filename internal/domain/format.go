package domain

import (
	"fmt"
	"strings"
)

// OutputFormat enumerates the materialized output representations.
type OutputFormat string

const (
	// FormatMarkdown is the structure-preserving text representation.
	FormatMarkdown OutputFormat = "markdown"
	// FormatJSON is the hierarchical tree with extraction metadata.
	FormatJSON OutputFormat = "json"
	// FormatHTML is styled markup rendered from the markdown representation.
	FormatHTML OutputFormat = "html"
	// FormatPDF is the paginated document. It is the heaviest conversion and
	// is produced only when explicitly requested.
	FormatPDF OutputFormat = "pdf"
)

// AllFormats lists every supported output format in stable order.
var AllFormats = []OutputFormat{FormatMarkdown, FormatJSON, FormatHTML, FormatPDF}

// ParseFormat normalizes a wire-level format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: output format %q", ErrInvalidFormat, s)
	}
}

// ParseFormats parses a list of format names, deduplicating while preserving
// first-seen order. An empty list is invalid.
func ParseFormats(names []string) ([]OutputFormat, error) {
	seen := make(map[OutputFormat]struct{}, len(names))
	var formats []OutputFormat
	for _, name := range names {
		f, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: no output formats selected", ErrInvalidFormat)
	}
	return formats, nil
}

// Extension returns the file extension for the format, including the dot.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	case FormatHTML:
		return ".html"
	case FormatPDF:
		return ".pdf"
	default:
		return ".bin"
	}
}

// MIME returns the content type served for downloads of this format.
func (f OutputFormat) MIME() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
