package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"ocrserver/internal/adapter/repo"
	"ocrserver/internal/engine"
	"ocrserver/internal/infra"
	"ocrserver/internal/infra/geoip"
	"ocrserver/internal/retention"
	"ocrserver/internal/scheduler"
	"ocrserver/internal/storage"
	"ocrserver/internal/store"
	"ocrserver/internal/ws"
)

// App is the handler container; everything reachable from an HTTP request
// hangs off it.
type App struct {
	Logger    infra.Logger
	Config    *infra.Config
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Retention *retention.Manager
	Engines   *engine.Registry
	Files     *storage.FileStore
	Hub       *ws.Hub
	Usage     *repo.UsageRepositoryPG
	Geo       geoip.CountryResolver
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, map[string]string{"error": code, "message": msg})
}

// clientCountry resolves the submitting client's ISO country code when a
// GeoIP database is configured; empty otherwise.
func (a *App) clientCountry(r *http.Request) string {
	if a.Geo == nil {
		return ""
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		if first := strings.TrimSpace(strings.Split(xf, ",")[0]); first != "" {
			ip = first
		}
	}
	code, err := a.Geo.CountryCode(ip)
	if err != nil {
		return ""
	}
	return code
}
