package scheduler

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"
)

// inputPageCount inspects PDF uploads for their page count so status queries
// can expose it before the engine reports anything. Best effort: a zero page
// count means unknown, never an error.
func inputPageCount(contentType string, data []byte) (pages int) {
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if strings.TrimSpace(ct) != "application/pdf" {
		return 0
	}

	// The pdf package panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			pages = 0
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
