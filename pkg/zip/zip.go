package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file placed into an archive.
type Entry struct {
	Filename string
	Data     []byte
}

// Archive assembles the entries into an in-memory zip. Entries keep their
// order; duplicate names are the caller's responsibility.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create entry %q: %w", entry.Filename, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write entry %q: %w", entry.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
