package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports liveness plus per-engine backend availability. Engine
// probes are read-only and bounded so a dead backend cannot hang the check.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	engines := make(map[string]bool)
	for _, name := range a.Engines.Names() {
		e, err := a.Engines.Lookup(name)
		if err != nil {
			continue
		}
		engines[name] = e.Available(ctx)
	}

	a.json(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"engines": engines,
	})
}
