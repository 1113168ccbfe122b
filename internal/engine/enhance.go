package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ocrserver/internal/infra"
)

const refinePromptPrefix = "Clean up the following OCR output. Fix broken words, join hyphenated line breaks and repair obvious misrecognitions. Preserve the markdown structure exactly. Return only the corrected markdown.\n\n"

// RefinerOptions configures the enhancement-pass client.
type RefinerOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Refiner performs the optional secondary text-refinement pass against an
// LLM completion endpoint. Callers must treat a failed refinement as a
// degradation, never as a job failure.
type Refiner struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type refineRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type refineResponse struct {
	Response string `json:"response"`
}

// NewRefiner constructs the enhancement client. Returns nil when no base URL
// is configured so callers can treat the pass as absent.
func NewRefiner(opts RefinerOptions) *Refiner {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	model := opts.Model
	if model == "" {
		model = "gemma3:12b"
	}
	return &Refiner{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		httpClient: client,
		logger:     ensureLogger(opts.Logger),
	}
}

// Refine sends the base markdown through the refinement model and returns
// the improved text. An empty reply is an error; silently replacing content
// with nothing would drop the base extraction.
func (r *Refiner) Refine(ctx context.Context, markdown string) (string, error) {
	if r == nil {
		return "", errors.New("refiner not configured")
	}
	payload := refineRequest{
		Model:  r.model,
		Prompt: refinePromptPrefix + markdown,
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke refiner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(data))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("refiner status %d: %s", resp.StatusCode, detail)
	}

	var reply refineResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode refiner response: %w", err)
	}
	refined := strings.TrimSpace(reply.Response)
	if refined == "" {
		return "", errors.New("refiner returned empty text")
	}
	return refined, nil
}
