package handlers

import "net/http"

// Cleanup runs one retention sweep on demand, independent of the background
// cadence. Only sessions past the retention window are affected.
func (a *App) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed := a.Retention.Sweep()
	a.json(w, http.StatusOK, map[string]any{
		"success":          true,
		"sessions_removed": removed,
	})
}
