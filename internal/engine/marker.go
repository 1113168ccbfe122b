package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ocrserver/internal/domain"
	"ocrserver/internal/infra"
)

// MarkerOptions configures the marker pipeline adapter.
type MarkerOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Refiner    *Refiner
}

// MarkerEngine wraps the GPU document pipeline behind a single HTTP call
// path with one timeout policy.
type MarkerEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	refiner    *Refiner
}

type markerConvertRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	MaxPages    int    `json:"max_pages,omitempty"`
}

type markerBlock struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
}

type markerConvertResponse struct {
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Markdown     string        `json:"markdown"`
	Blocks       []markerBlock `json:"blocks,omitempty"`
	Pages        int           `json:"pages"`
	Confidence   float64       `json:"confidence"`
	ProcessingMS int64         `json:"processing_ms"`
}

// NewMarkerEngine constructs the pipeline adapter. A nil HTTP client gets a
// reusable default.
func NewMarkerEngine(opts MarkerOptions) *MarkerEngine {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &MarkerEngine{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: client,
		logger:     ensureLogger(opts.Logger),
		refiner:    opts.Refiner,
	}
}

// Name implements Engine.
func (e *MarkerEngine) Name() string { return "marker" }

// Capabilities implements Engine. The pipeline accepts documents and images
// and its structured result can materialize into every output format.
func (e *MarkerEngine) Capabilities() Capabilities {
	types := imageInputTypes()
	types["application/pdf"] = ".pdf"
	types["application/vnd.openxmlformats-officedocument.wordprocessingml.document"] = ".docx"
	types["application/vnd.openxmlformats-officedocument.presentationml.presentation"] = ".pptx"
	types["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"] = ".xlsx"
	types["application/epub+zip"] = ".epub"
	types["text/html"] = ".html"
	return Capabilities{
		InputTypes:    types,
		Enhancement:   true,
		OutputFormats: domain.AllFormats,
	}
}

// Available pings the pipeline's health endpoint with a short deadline.
func (e *MarkerEngine) Available(ctx context.Context) bool {
	if e.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusBadRequest
}

// Extract implements Engine by invoking the pipeline's convert endpoint and
// normalizing its reply. When the enhancement pass is requested and fails,
// the base extraction is kept and the degradation recorded as a warning.
func (e *MarkerEngine) Extract(ctx context.Context, in Input) (*domain.ExtractionResult, error) {
	payload := markerConvertRequest{
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Data:        base64.StdEncoding.EncodeToString(in.Data),
		MaxPages:    in.Options.MaxPages,
	}

	var response markerConvertResponse
	if err := e.invoke(ctx, "/convert", payload, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		detail := response.Error
		if detail == "" {
			detail = "pipeline rejected the document"
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrEngineFailure, detail)
	}

	result := &domain.ExtractionResult{
		Markdown:       response.Markdown,
		Blocks:         normalizeBlocks(response.Blocks),
		PageCount:      response.Pages,
		Confidence:     response.Confidence,
		ProcessingTime: time.Duration(response.ProcessingMS) * time.Millisecond,
		Engine:         e.Name(),
	}
	if result.Confidence == 0 && len(result.Blocks) == 0 {
		result.Confidence = -1
	}

	if in.Options.Enhance && e.refiner != nil {
		refined, err := e.refiner.Refine(ctx, result.Markdown)
		if err != nil {
			e.logger.Warn().Err(err).Str("file", in.Filename).
				Msg("marker: enhancement pass failed, keeping base extraction")
			result.Warnings = append(result.Warnings, "enhancement failed: "+err.Error())
		} else {
			result.Markdown = refined
			result.Enhanced = true
		}
	}

	return result, nil
}

func (e *MarkerEngine) invoke(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(data))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: pipeline status %d: %s", domain.ErrEngineFailure, resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode pipeline response: %v", domain.ErrEngineFailure, err)
	}
	return nil
}

func normalizeBlocks(blocks []markerBlock) []domain.Block {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]domain.Block, 0, len(blocks))
	for _, b := range blocks {
		t := domain.BlockType(b.Type)
		switch t {
		case domain.BlockTypeHeading, domain.BlockTypeParagraph, domain.BlockTypeTable, domain.BlockTypeFigure:
		default:
			t = domain.BlockTypeParagraph
		}
		out = append(out, domain.Block{Type: t, Text: b.Text, Page: b.Page, Confidence: b.Confidence})
	}
	return out
}

// classifyTransportError maps outbound call failures onto the failure
// taxonomy: deadline exhaustion is a timeout, everything else an engine
// failure.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrEngineTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
}
