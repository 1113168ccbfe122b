package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ocrserver/internal/domain"
)

// ExtractOptions carries per-submission knobs applied to every job.
type ExtractOptions struct {
	// Enhance requests the secondary LLM refinement pass on the base
	// extraction. Ignored by engines that do not support it.
	Enhance bool
	// MaxPages limits how many pages the engine processes; zero means all.
	MaxPages int
}

// Input encapsulates a single file submitted for extraction.
type Input struct {
	Filename    string
	ContentType string
	Data        []byte
	Options     ExtractOptions
}

// Capabilities is the static capability set an engine advertises. It is
// consulted at submission time; engine selection is never re-evaluated
// mid-job.
type Capabilities struct {
	// InputTypes maps accepted MIME types to their canonical extension.
	InputTypes map[string]string
	// ImagesOnly restricts the engine to image inputs.
	ImagesOnly bool
	// Enhancement reports whether the engine honors the refinement pass.
	Enhancement bool
	// OutputFormats lists the output representations derivable from this
	// engine's normalized result.
	OutputFormats []domain.OutputFormat
}

// Accepts reports whether the declared content type (with the filename
// extension as a tiebreaker for generic types) is processable.
func (c Capabilities) Accepts(contentType, filename string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if _, ok := c.InputTypes[ct]; ok {
		return true
	}
	// Browsers frequently send application/octet-stream; fall back to the
	// file extension.
	if ct == "" || ct == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(filename))
		for _, known := range c.InputTypes {
			if known == ext {
				return true
			}
		}
	}
	return false
}

// SupportsFormat reports whether the engine's result can materialize into f.
func (c Capabilities) SupportsFormat(f domain.OutputFormat) bool {
	for _, have := range c.OutputFormats {
		if have == f {
			return true
		}
	}
	return false
}

// AcceptedTypes returns the accepted MIME types in stable order.
func (c Capabilities) AcceptedTypes() []string {
	types := make([]string, 0, len(c.InputTypes))
	for ct := range c.InputTypes {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

// Engine is the uniform adapter contract over an interchangeable extraction
// backend. Adapters are stateless across invocations; their only side effect
// is the outbound call.
type Engine interface {
	Name() string
	Capabilities() Capabilities
	// Available reports whether the backend is currently usable. Read-only.
	Available(ctx context.Context) bool
	Extract(ctx context.Context, in Input) (*domain.ExtractionResult, error)
}

// Registry holds the configured engines keyed by name.
type Registry struct {
	engines map[string]Engine
	names   []string
}

// NewRegistry builds a registry preserving registration order.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		if _, ok := r.engines[e.Name()]; ok {
			continue
		}
		r.engines[e.Name()] = e
		r.names = append(r.names, e.Name())
	}
	return r
}

// Lookup returns the engine for name.
func (r *Registry) Lookup(name string) (Engine, error) {
	e, ok := r.engines[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEngine, name)
	}
	return e, nil
}

// Names returns engine names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func imageInputTypes() map[string]string {
	return map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/tiff": ".tiff",
		"image/bmp":  ".bmp",
	}
}
