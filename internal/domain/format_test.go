package domain

import (
	"errors"
	"testing"
)

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []OutputFormat
		wantErr bool
	}{
		{
			name:  "single format",
			input: []string{"markdown"},
			want:  []OutputFormat{FormatMarkdown},
		},
		{
			name:  "md alias",
			input: []string{"md"},
			want:  []OutputFormat{FormatMarkdown},
		},
		{
			name:  "mixed case and whitespace",
			input: []string{" JSON ", "Html"},
			want:  []OutputFormat{FormatJSON, FormatHTML},
		},
		{
			name:  "duplicates keep first-seen order",
			input: []string{"pdf", "markdown", "pdf", "md"},
			want:  []OutputFormat{FormatPDF, FormatMarkdown},
		},
		{
			name:    "unknown format",
			input:   []string{"markdown", "docx"},
			wantErr: true,
		},
		{
			name:    "empty list",
			input:   nil,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFormats(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseFormats(%v) expected error, got %v", tc.input, got)
				}
				if !errors.Is(err, ErrInvalidFormat) {
					t.Fatalf("ParseFormats(%v) error = %v, want ErrInvalidFormat", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormats(%v) unexpected error: %v", tc.input, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("ParseFormats(%v) = %v, want %v", tc.input, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("ParseFormats(%v)[%d] = %q, want %q", tc.input, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestFormatExtensionAndMIME(t *testing.T) {
	for _, f := range AllFormats {
		if f.Extension() == ".bin" {
			t.Fatalf("format %q has no extension", f)
		}
		if f.MIME() == "application/octet-stream" {
			t.Fatalf("format %q has no MIME type", f)
		}
	}
}
