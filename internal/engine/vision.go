package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ocrserver/internal/domain"
	"ocrserver/internal/infra"
)

// visionPrompt instructs the model to reply with machine-readable JSON so the
// reply can be validated before it is trusted.
const visionPrompt = `Extract all text from this image. Respond with a single JSON object of the shape {"markdown": "<extracted text as markdown>", "language": "<dominant language code>"} and nothing else.`

// visionReplySchema constrains the model output accepted by the adapter.
const visionReplySchema = `{
	"type": "object",
	"required": ["markdown"],
	"properties": {
		"markdown": {"type": "string"},
		"language": {"type": "string"}
	}
}`

// VisionOptions configures the direct vision-language-model adapter.
type VisionOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Refiner    *Refiner
}

// VisionEngine calls a vision-LLM inference endpoint directly. It is
// restricted to image inputs and yields linear markdown only, so the
// hierarchical-data format is not derivable from its result.
type VisionEngine struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
	refiner    *Refiner
	schema     *jsonschema.Schema
}

type visionInferenceRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	ImageB64 string `json:"image_base64"`
}

type visionInferenceResponse struct {
	Text string `json:"text"`
}

type visionReply struct {
	Markdown string `json:"markdown"`
	Language string `json:"language,omitempty"`
}

// NewVisionEngine constructs the adapter. The reply schema is compiled once;
// compilation of the embedded schema cannot fail at runtime.
func NewVisionEngine(opts VisionOptions) (*VisionEngine, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("vision_reply.json", strings.NewReader(visionReplySchema)); err != nil {
		return nil, fmt.Errorf("add reply schema: %w", err)
	}
	schema, err := compiler.Compile("vision_reply.json")
	if err != nil {
		return nil, fmt.Errorf("compile reply schema: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = "deepseek-ocr"
	}
	return &VisionEngine{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		httpClient: client,
		logger:     ensureLogger(opts.Logger),
		refiner:    opts.Refiner,
		schema:     schema,
	}, nil
}

// Name implements Engine.
func (e *VisionEngine) Name() string { return "vision" }

// Capabilities implements Engine.
func (e *VisionEngine) Capabilities() Capabilities {
	return Capabilities{
		InputTypes:  imageInputTypes(),
		ImagesOnly:  true,
		Enhancement: true,
		OutputFormats: []domain.OutputFormat{
			domain.FormatMarkdown,
			domain.FormatHTML,
			domain.FormatPDF,
		},
	}
}

// Available reports whether the adapter is configured; the inference server
// exposes no health endpoint.
func (e *VisionEngine) Available(ctx context.Context) bool {
	return e.baseURL != ""
}

// Extract implements Engine: one inference call, schema-validated reply.
func (e *VisionEngine) Extract(ctx context.Context, in Input) (*domain.ExtractionResult, error) {
	started := time.Now()

	payload := visionInferenceRequest{
		Model:    e.model,
		Prompt:   visionPrompt,
		ImageB64: base64.StdEncoding.EncodeToString(in.Data),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(data))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: inference status %d: %s", domain.ErrEngineFailure, resp.StatusCode, detail)
	}

	var inference visionInferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&inference); err != nil {
		return nil, fmt.Errorf("%w: decode inference response: %v", domain.ErrEngineFailure, err)
	}

	reply, err := e.parseReply(inference.Text)
	if err != nil {
		return nil, err
	}

	result := &domain.ExtractionResult{
		Markdown:       reply.Markdown,
		PageCount:      1,
		Confidence:     -1,
		ProcessingTime: time.Since(started),
		Engine:         e.Name(),
	}

	if in.Options.Enhance && e.refiner != nil {
		refined, err := e.refiner.Refine(ctx, result.Markdown)
		if err != nil {
			e.logger.Warn().Err(err).Str("file", in.Filename).
				Msg("vision: enhancement pass failed, keeping base extraction")
			result.Warnings = append(result.Warnings, "enhancement failed: "+err.Error())
		} else {
			result.Markdown = refined
			result.Enhanced = true
		}
	}

	return result, nil
}

// parseReply validates the model output against the reply schema before
// decoding it. Models drift; a malformed reply is an engine failure, never a
// silent pass-through.
func (e *VisionEngine) parseReply(text string) (*visionReply, error) {
	raw := strings.TrimSpace(text)
	// Some models wrap the JSON in a fenced code block.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: model reply is not JSON: %v", domain.ErrEngineFailure, err)
	}
	if err := e.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: model reply does not match schema: %v", domain.ErrEngineFailure, err)
	}
	var reply visionReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("%w: decode model reply: %v", domain.ErrEngineFailure, err)
	}
	return &reply, nil
}
