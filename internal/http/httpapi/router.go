package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ocrserver/internal/http/handlers"
	"ocrserver/internal/infra"
	"ocrserver/internal/middleware"
)

// NewRouter wires the HTTP surface. Upload is the only mutating entry point
// besides delete and cleanup; everything else reads derived state.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
			Post("/upload", app.Upload)

		r.Get("/formats", app.Formats)
		r.Get("/stats", app.Stats)
		r.Post("/cleanup", app.Cleanup)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", app.SessionList)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/status", app.SessionStatus)
				r.Get("/download/{filename}", app.Download)
				r.Get("/archive", app.Archive)
				r.Delete("/", app.SessionDelete)
			})
		})
	})

	r.Get("/ws", app.WS)

	return r
}
