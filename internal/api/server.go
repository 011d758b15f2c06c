// Package api serves the read model, tenant configuration, and the admin
// surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/getools/gesniper/internal/catalog"
	"github.com/getools/gesniper/internal/config"
	"github.com/getools/gesniper/internal/metrics"
	"github.com/getools/gesniper/internal/persistence"
	"github.com/getools/gesniper/internal/scheduler"
	"github.com/getools/gesniper/internal/tenant"
	"github.com/getools/gesniper/internal/views"
)

// Pipeline is the slice of the scheduler the API needs: health reporting and
// the admin backfill.
type Pipeline interface {
	Status() scheduler.Status
	Backfill(ctx context.Context, hours int) (int, error)
}

// Server wires the HTTP surface.
type Server struct {
	cfg      *config.Holder
	views    *views.Registry
	db       *persistence.DB
	catalog  *catalog.Catalog
	pipeline Pipeline
	tenants  *tenant.Store
	metrics  *metrics.Metrics
	limiter  *ipLimiter
	log      zerolog.Logger

	router *mux.Router
	srv    *http.Server
}

// New builds the server and its route table.
func New(cfg *config.Holder, db *persistence.DB, cat *catalog.Catalog,
	reg *views.Registry, pipeline Pipeline, tenants *tenant.Store,
	m *metrics.Metrics, log zerolog.Logger) *Server {

	s := &Server{
		cfg:      cfg,
		views:    reg,
		db:       db,
		catalog:  cat,
		pipeline: pipeline,
		tenants:  tenants,
		metrics:  m,
		limiter:  newIPLimiter(5, 10),
		log:      log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.corsMiddleware, s.loggingMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware, s.bodyGuardMiddleware)

	api.HandleFunc("/top", s.handleTop).Methods(http.MethodGet)
	api.HandleFunc("/dumps", s.handleDumps).Methods(http.MethodGet)
	api.HandleFunc("/dumps/{item_id:[0-9]+}", s.handleDumpDetail).Methods(http.MethodGet)
	api.HandleFunc("/spikes", s.handleSpikes).Methods(http.MethodGet)
	api.HandleFunc("/all_items", s.handleAllItems).Methods(http.MethodGet)
	api.HandleFunc("/tiers", s.handleTiers).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/config/{tenant_id}", s.handleGetTenantConfig).Methods(http.MethodGet)
	api.HandleFunc("/config/{tenant_id}", s.handlePutTenantConfig).Methods(http.MethodPost)

	api.HandleFunc("/watchlist/{tenant_id}/{user_id}", s.handleWatchlistList).Methods(http.MethodGet)
	api.HandleFunc("/watchlist/{tenant_id}/{user_id}", s.handleWatchlistAdd).Methods(http.MethodPost)
	api.HandleFunc("/watchlist/{tenant_id}/{user_id}/{item_id:[0-9]+}", s.handleWatchlistRemove).Methods(http.MethodDelete)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/fetch_recent", s.adminOnly(s.handleFetchRecent)).Methods(http.MethodPost)
	admin.HandleFunc("/db_prune", s.adminOnly(s.handlePrune)).Methods(http.MethodPost)
	admin.HandleFunc("/db_health", s.adminOnly(s.handleDBHealth)).Methods(http.MethodGet)
	admin.HandleFunc("/reload_config", s.adminOnly(s.handleReloadConfig)).Methods(http.MethodPost)
	admin.HandleFunc("/ban/{tenant_id}", s.adminOnly(s.handleBan)).Methods(http.MethodPost)
	admin.HandleFunc("/unban/{tenant_id}", s.adminOnly(s.handleUnban)).Methods(http.MethodPost)

	return r
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Current().ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
