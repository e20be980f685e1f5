// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/maruel/linkreview/internal/history"
	"github.com/maruel/linkreview/internal/server/handlers"
	"github.com/maruel/linkreview/internal/server/ratelimit"
	"github.com/maruel/linkreview/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
)

// Config holds the dependencies of the router.
type Config struct {
	Manager   *store.Manager
	History   *history.Repo // nil when history is disabled
	RateLimit *ratelimit.Config

	Fs       afero.Fs
	DataFile string

	AdminUser           string
	Version             string
	Commit              string
	MaxRequestBodyBytes int64
}

// NewRouter creates and configures the HTTP router.
// Serves API endpoints at /api/* and Prometheus metrics at /metrics.
func NewRouter(cfg *Config) http.Handler {
	mux := &http.ServeMux{}
	maxBody := cfg.MaxRequestBodyBytes
	rh := handlers.NewRecordHandler(cfg.Manager)
	ah := handlers.NewAdminHandler(cfg.Manager, cfg.History, maxBody)
	hh := handlers.NewHealthHandler(cfg.Version, cfg.Commit, cfg.AdminUser, cfg.Fs, cfg.DataFile)
	admin := RequireAdmin(cfg.AdminUser)

	mux.Handle("GET /api/health", Wrap(hh.Health, maxBody))

	// Reviewer endpoints
	mux.Handle("GET /api/data", Wrap(rh.GetData, maxBody))
	mux.Handle("GET /api/version", Wrap(rh.GetVersion, maxBody))
	mux.Handle("GET /api/stats", Wrap(rh.Stats, maxBody))
	mux.Handle("POST /api/update", RequireUser(Wrap(rh.Update, maxBody)))
	mux.Handle("POST /api/save", RequireUser(Wrap(rh.Save, maxBody)))
	mux.Handle("POST /api/next", RequireUser(Wrap(rh.Next, maxBody)))
	mux.Handle("POST /api/release", RequireUser(Wrap(rh.Release, maxBody)))
	mux.Handle("POST /api/heartbeat", RequireUser(Wrap(rh.Heartbeat, maxBody)))

	// Admin endpoints
	mux.Handle("POST /api/flush", admin(Wrap(ah.Flush, maxBody)))
	mux.Handle("POST /api/upload", admin(http.HandlerFunc(ah.Upload)))
	mux.Handle("GET /api/download", admin(http.HandlerFunc(ah.Download)))
	if cfg.History != nil {
		mux.Handle("GET /api/history", admin(Wrap(ah.History, maxBody)))
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	return IdentityMiddleware(RateLimitMiddleware(cfg.RateLimit)(mux))
}
