package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/secfeed/pkg/cache"
	"github.com/umputun/secfeed/pkg/feed"
	"github.com/umputun/secfeed/pkg/fetcher"
	"github.com/umputun/secfeed/pkg/registry"
)

// Server exposes the aggregated advisory stream and operational state to
// dashboard consumers over a read-only HTTP API
type Server struct {
	config     ConfigProvider
	aggregator Aggregator
	health     Health
	cacheInfo  CacheInfo
	sources    SourceProvider
	version    string
	debug      bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Aggregator provides aggregate fetch operations over the source registry
type Aggregator interface {
	FetchAll(ctx context.Context) []feed.Item
	FetchByCategory(ctx context.Context, category string) []feed.Item
	FetchPriority1(ctx context.Context) []feed.Item
	FilteredItems(ctx context.Context, flt fetcher.Filter) []feed.Item
}

// Health exposes per-source fetch health
type Health interface {
	Status() fetcher.HealthStatus
	LastUpdated() map[string]time.Time
}

// CacheInfo exposes cache usage statistics
type CacheInfo interface {
	Stats() cache.Stats
}

// SourceProvider exposes the loaded source registry
type SourceProvider interface {
	All() []registry.Source
	Categories() []string
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	BaseURL() string
}

// New initializes a new server instance
func New(cfg ConfigProvider, aggregator Aggregator, health Health, cacheInfo CacheInfo, sources SourceProvider, version string, debug bool) *Server {
	s := &Server{
		config:     cfg,
		aggregator: aggregator,
		health:     health,
		cacheInfo:  cacheInfo,
		sources:    sources,
		version:    version,
		debug:      debug,
		router:     routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("secfeed", "umputun", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes registers the read-only API surface
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.HandleFunc("GET /items", s.itemsHandler)
		api.HandleFunc("GET /sources", s.sourcesHandler)
		api.HandleFunc("GET /health", s.healthHandler)
		api.HandleFunc("GET /cache/stats", s.cacheStatsHandler)
	})

	s.router.HandleFunc("GET /rss", s.rssHandler)
	s.router.HandleFunc("GET /rss/{category}", s.rssHandler)
}

// itemsHandler returns the aggregated item stream, optionally narrowed by
// category, priority and severity query parameters
func (s *Server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	flt := fetcher.Filter{
		Category: r.URL.Query().Get("category"),
		Severity: feed.Severity(r.URL.Query().Get("severity")),
	}
	if p := r.URL.Query().Get("priority"); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil || priority < 1 || priority > 3 {
			http.Error(w, "invalid priority", http.StatusBadRequest)
			return
		}
		flt.Priority = priority
	}

	items := s.aggregator.FilteredItems(r.Context(), flt)
	rest.RenderJSON(w, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// sourcesHandler returns the loaded source registry
func (s *Server) sourcesHandler(w http.ResponseWriter, _ *http.Request) {
	type sourceInfo struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		URL            string `json:"url"`
		Format         string `json:"format"`
		Category       string `json:"category"`
		Priority       int    `json:"priority"`
		RefreshSeconds int    `json:"refresh_seconds"`
		APIKeyRequired bool   `json:"api_key_required"`
	}

	all := s.sources.All()
	out := make([]sourceInfo, 0, len(all))
	for _, src := range all {
		out = append(out, sourceInfo{
			ID:             src.ID,
			Name:           src.Name,
			URL:            src.URL,
			Format:         string(src.Format),
			Category:       src.Category,
			Priority:       src.Priority,
			RefreshSeconds: int(src.RefreshInterval.Seconds()),
			APIKeyRequired: src.APIKeyRequired,
		})
	}

	rest.RenderJSON(w, map[string]interface{}{
		"sources":    out,
		"categories": s.sources.Categories(),
	})
}

// healthHandler returns the aggregate health snapshot plus per-source
// last-update timestamps
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	lastUpdated := make(map[string]string)
	for id, ts := range s.health.LastUpdated() {
		lastUpdated[id] = ts.Format(time.RFC3339)
	}

	rest.RenderJSON(w, map[string]interface{}{
		"status":       s.health.Status(),
		"last_updated": lastUpdated,
	})
}

// cacheStatsHandler returns cache usage statistics
func (s *Server) cacheStatsHandler(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, s.cacheInfo.Stats())
}
