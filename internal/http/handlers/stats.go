package handlers

import "net/http"

// Stats returns today's per-engine usage aggregates. Without a configured
// database the endpoint degrades to an empty report instead of failing.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	if !a.Usage.Enabled() {
		a.json(w, http.StatusOK, map[string]any{"enabled": false, "usage": []any{}})
		return
	}
	items, err := a.Usage.Summary(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats: summary query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"enabled": true, "usage": items})
}
