package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ocrserver/internal/domain"
)

// Download serves one materialized file by its filename within the session.
// A filename that was never materialized is a not-found condition.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	filename := chi.URLParam(r, "filename")

	session, err := a.Store.Snapshot(sessionID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	for i := range session.Jobs {
		job := &session.Jobs[i]
		for _, mf := range job.OutputFiles {
			if mf.Filename != filename {
				continue
			}
			data, err := a.Files.Read(r.Context(), mf.StorageKey)
			if err != nil {
				a.Logger.Error().Err(err).Str("storage_key", mf.StorageKey).Msg("download: read failed")
				a.error(w, http.StatusInternalServerError, "internal", "failed to read file")
				return
			}
			w.Header().Set("Content-Type", mf.Format.MIME())
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	a.error(w, http.StatusNotFound, "not_found", "file not found")
}

// Archive serves a zip of every materialized file of every completed job in
// the session.
func (a *App) Archive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	data, err := a.Retention.BuildArchive(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "session not found")
		case errors.Is(err, domain.ErrNothingMaterialized):
			a.error(w, http.StatusNotFound, "not_found", "no completed files to archive")
		default:
			a.Logger.Error().Err(err).Str("session_id", sessionID).Msg("archive: build failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session-%s.zip", sessionID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
