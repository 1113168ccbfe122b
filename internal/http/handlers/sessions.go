package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ocrserver/internal/domain"
)

type jobView struct {
	ID               string            `json:"id"`
	Filename         string            `json:"filename"`
	State            domain.JobState   `json:"state"`
	Progress         float64           `json:"progress"`
	Pages            int               `json:"pages,omitempty"`
	Enhanced         bool              `json:"enhanced"`
	Warnings         []string          `json:"warnings,omitempty"`
	Error            *domain.JobError  `json:"error,omitempty"`
	AvailableFormats []string          `json:"available_formats,omitempty"`
	OutputFiles      map[string]string `json:"output_files,omitempty"`
}

type sessionView struct {
	SessionID string               `json:"session_id"`
	Engine    string               `json:"engine"`
	Status    domain.SessionStatus `json:"status"`
	Formats   []string             `json:"requested_formats"`
	Completed int                  `json:"completed_files"`
	Total     int                  `json:"total_files"`
	CreatedAt string               `json:"created_at"`
	Jobs      []jobView            `json:"files"`
}

// SessionStatus returns derived status plus per-job state. Reading status
// has no side effect beyond refreshing the retention clock.
func (a *App) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := a.Store.Snapshot(sessionID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	a.json(w, http.StatusOK, viewOf(&session))
}

// SessionList lists the ids of all live sessions.
func (a *App) SessionList(w http.ResponseWriter, r *http.Request) {
	ids := a.Store.IDs()
	a.json(w, http.StatusOK, map[string]any{"sessions": ids, "total": len(ids)})
}

// SessionDelete removes one session and its files immediately.
func (a *App) SessionDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := a.Retention.DeleteSession(sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		a.Logger.Error().Err(err).Str("session_id", sessionID).Msg("sessions: delete failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete session")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "session_id": sessionID})
}

func viewOf(session *domain.Session) sessionView {
	done, total := session.Progress()
	view := sessionView{
		SessionID: session.ID,
		Engine:    session.Engine,
		Status:    session.Status(),
		Completed: done,
		Total:     total,
		CreatedAt: session.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, f := range session.RequestedFormats {
		view.Formats = append(view.Formats, string(f))
	}
	for i := range session.Jobs {
		job := &session.Jobs[i]
		jv := jobView{
			ID:       job.ID,
			Filename: job.Input.Filename,
			State:    job.State,
			Progress: job.Progress,
			Pages:    job.Input.PageCount,
			Enhanced: job.Enhanced,
			Warnings: job.Warnings,
			Error:    job.Error,
		}
		if job.State == domain.JobStateCompleted {
			jv.OutputFiles = make(map[string]string, len(job.OutputFiles))
			for _, format := range session.RequestedFormats {
				if mf, ok := job.OutputFiles[format]; ok {
					jv.AvailableFormats = append(jv.AvailableFormats, string(format))
					jv.OutputFiles[string(format)] = mf.Filename
				}
			}
		}
		view.Jobs = append(view.Jobs, jv)
	}
	return view
}
