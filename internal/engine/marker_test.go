package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ocrserver/internal/domain"
)

func TestMarkerExtractSuccess(t *testing.T) {
	var got markerConvertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convert" {
			t.Errorf("path = %q, want /convert", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(markerConvertResponse{
			Success:      true,
			Markdown:     "# Doc",
			Blocks:       []markerBlock{{Type: "heading", Text: "Doc", Page: 1, Confidence: 0.9}},
			Pages:        3,
			Confidence:   0.9,
			ProcessingMS: 250,
		})
	}))
	defer srv.Close()

	e := NewMarkerEngine(MarkerOptions{BaseURL: srv.URL})
	result, err := e.Extract(context.Background(), Input{
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		Data:        []byte("raw-bytes"),
		Options:     ExtractOptions{MaxPages: 5},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got.Filename != "doc.pdf" || got.ContentType != "application/pdf" || got.MaxPages != 5 {
		t.Fatalf("request payload = %+v", got)
	}
	data, _ := base64.StdEncoding.DecodeString(got.Data)
	if string(data) != "raw-bytes" {
		t.Fatalf("request data = %q, want base64 of raw-bytes", got.Data)
	}

	if result.Markdown != "# Doc" || result.PageCount != 3 || result.Confidence != 0.9 {
		t.Fatalf("result = %+v", result)
	}
	if result.ProcessingTime != 250*time.Millisecond {
		t.Fatalf("processing time = %v", result.ProcessingTime)
	}
	if len(result.Blocks) != 1 || result.Blocks[0].Type != domain.BlockTypeHeading {
		t.Fatalf("blocks = %+v", result.Blocks)
	}
	if result.Engine != "marker" {
		t.Fatalf("engine = %q", result.Engine)
	}
}

func TestMarkerExtractPipelineRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(markerConvertResponse{Success: false, Error: "encrypted document"})
	}))
	defer srv.Close()

	e := NewMarkerEngine(MarkerOptions{BaseURL: srv.URL})
	_, err := e.Extract(context.Background(), Input{Filename: "doc.pdf", Data: []byte("x")})
	if !errors.Is(err, domain.ErrEngineFailure) {
		t.Fatalf("error = %v, want ErrEngineFailure", err)
	}
}

func TestMarkerExtractHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gpu worker crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewMarkerEngine(MarkerOptions{BaseURL: srv.URL})
	_, err := e.Extract(context.Background(), Input{Filename: "doc.pdf", Data: []byte("x")})
	if !errors.Is(err, domain.ErrEngineFailure) {
		t.Fatalf("error = %v, want ErrEngineFailure", err)
	}
}

func TestMarkerExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body before blocking: before Go 1.23 the server does not
		// cancel the request context on client disconnect while the body is
		// unread, which would leave srv.Close hanging on this handler.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := NewMarkerEngine(MarkerOptions{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Extract(ctx, Input{Filename: "doc.pdf", Data: []byte("x")})
	if !errors.Is(err, domain.ErrEngineTimeout) {
		t.Fatalf("error = %v, want ErrEngineTimeout", err)
	}
}

func TestMarkerEnhancementFailureDegradesToWarning(t *testing.T) {
	pipeline := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(markerConvertResponse{Success: true, Markdown: "base text", Pages: 1})
	}))
	defer pipeline.Close()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer llm.Close()

	e := NewMarkerEngine(MarkerOptions{
		BaseURL: pipeline.URL,
		Refiner: NewRefiner(RefinerOptions{BaseURL: llm.URL}),
	})
	result, err := e.Extract(context.Background(), Input{
		Filename: "doc.pdf",
		Data:     []byte("x"),
		Options:  ExtractOptions{Enhance: true},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Enhanced {
		t.Fatalf("enhanced flag set despite failed pass")
	}
	if result.Markdown != "base text" {
		t.Fatalf("markdown = %q, want base extraction kept", result.Markdown)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want the degradation recorded", result.Warnings)
	}
}

func TestMarkerEnhancementApplied(t *testing.T) {
	pipeline := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(markerConvertResponse{Success: true, Markdown: "raw ocr", Pages: 1})
	}))
	defer pipeline.Close()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(refineResponse{Response: "clean ocr"})
	}))
	defer llm.Close()

	e := NewMarkerEngine(MarkerOptions{
		BaseURL: pipeline.URL,
		Refiner: NewRefiner(RefinerOptions{BaseURL: llm.URL}),
	})
	result, err := e.Extract(context.Background(), Input{
		Filename: "doc.pdf",
		Data:     []byte("x"),
		Options:  ExtractOptions{Enhance: true},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !result.Enhanced || result.Markdown != "clean ocr" {
		t.Fatalf("result = %+v, want refined text", result)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestMarkerCapabilitiesAccept(t *testing.T) {
	caps := NewMarkerEngine(MarkerOptions{}).Capabilities()
	tests := []struct {
		contentType string
		filename    string
		want        bool
	}{
		{"application/pdf", "doc.pdf", true},
		{"application/pdf; charset=binary", "doc.pdf", true},
		{"image/png", "scan.png", true},
		{"application/octet-stream", "doc.pdf", true},
		{"application/octet-stream", "doc.exe", false},
		{"video/mp4", "clip.mp4", false},
	}
	for _, tc := range tests {
		if got := caps.Accepts(tc.contentType, tc.filename); got != tc.want {
			t.Fatalf("Accepts(%q, %q) = %v, want %v", tc.contentType, tc.filename, got, tc.want)
		}
	}
	for _, f := range domain.AllFormats {
		if !caps.SupportsFormat(f) {
			t.Fatalf("marker should support format %q", f)
		}
	}
}
