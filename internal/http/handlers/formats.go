package handlers

import (
	"net/http"

	"ocrserver/internal/domain"
)

type engineCapabilities struct {
	Name          string   `json:"name"`
	InputTypes    []string `json:"input_types"`
	ImagesOnly    bool     `json:"images_only"`
	Enhancement   bool     `json:"enhancement"`
	OutputFormats []string `json:"output_formats"`
}

// Formats advertises the output formats and per-engine capabilities so
// clients can build their submission form without guessing.
func (a *App) Formats(w http.ResponseWriter, r *http.Request) {
	formats := make([]string, 0, len(domain.AllFormats))
	for _, f := range domain.AllFormats {
		formats = append(formats, string(f))
	}

	engines := make([]engineCapabilities, 0)
	for _, name := range a.Engines.Names() {
		e, err := a.Engines.Lookup(name)
		if err != nil {
			continue
		}
		caps := e.Capabilities()
		outputs := make([]string, 0, len(caps.OutputFormats))
		for _, f := range caps.OutputFormats {
			outputs = append(outputs, string(f))
		}
		engines = append(engines, engineCapabilities{
			Name:          name,
			InputTypes:    caps.AcceptedTypes(),
			ImagesOnly:    caps.ImagesOnly,
			Enhancement:   caps.Enhancement,
			OutputFormats: outputs,
		})
	}

	a.json(w, http.StatusOK, map[string]any{
		"formats": formats,
		"engines": engines,
		"default": string(domain.FormatMarkdown),
	})
}
