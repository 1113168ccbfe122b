package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ocrserver/internal/scheduler"
)

// Upload accepts a multipart batch of files plus engine and format
// selection, registers the session and returns its id immediately.
// Processing is observed through status queries; the submission never blocks
// on completion.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.Config.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("upload exceeds the %d byte limit", a.Config.MaxUploadBytes))
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	engineName := r.FormValue("engine")
	if engineName == "" {
		engineName = "marker"
	}

	formats := r.MultipartForm.Value["output_format"]
	if len(formats) == 1 && strings.Contains(formats[0], ",") {
		formats = strings.Split(formats[0], ",")
	}
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}

	enhance := parseBool(r.FormValue("use_llm"))
	maxPages := 0
	if raw := strings.TrimSpace(r.FormValue("max_pages")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid max_pages value %q", raw))
			return
		}
		maxPages = n
	}

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "no files uploaded")
		return
	}

	files := make([]scheduler.SubmitFile, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		f, err := header.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("cannot read %q", header.Filename))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("cannot read %q", header.Filename))
			return
		}
		files = append(files, scheduler.SubmitFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	session, err := a.Scheduler.Submit(scheduler.SubmitRequest{
		Engine:   engineName,
		Formats:  formats,
		Enhance:  enhance,
		MaxPages: maxPages,
		Files:    files,
	})
	if err != nil {
		var verr *scheduler.ValidationError
		if errors.As(err, &verr) {
			a.error(w, http.StatusBadRequest, "validation_error", verr.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("upload: submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start processing")
		return
	}

	if a.Usage.Enabled() {
		country := a.clientCountry(r)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Usage.RecordSubmission(ctx, session.Engine, len(files), country)
	}

	a.json(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"session_id": session.ID,
		"message":    fmt.Sprintf("processing %d file(s)", len(files)),
	})
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
