// Package server is the HTTP façade over the platform: a handful of JSON
// routes, CORS and the request middleware chain.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"subsurface/internal/config"
	"subsurface/internal/observability"
	"subsurface/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Platform is what the HTTP layer needs from the data platform.
type Platform interface {
	Query(ctx context.Context, text string) (string, error)
	Status(ctx context.Context) (map[string]any, error)
	CallTool(ctx context.Context, name, arg string) (*mcp.CallToolResult, error)
	RecentQueries(ctx context.Context, limit int) ([]store.QueryRecord, error)
}

type Server struct {
	cfg      *config.Config
	mux      *http.ServeMux
	platform Platform
	log      *observability.Logger
}

func New(cfg *config.Config, p Platform) *Server {
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		platform: p,
		log:      observability.Component("server"),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/query", s.handleQuery)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/files", s.handleFiles)
	s.mux.HandleFunc("GET /api/queries", s.handleQueries)
	return s
}

// Mount adds an extra handler, e.g. the MCP endpoint.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = corsMiddleware(s.cfg.CORSAllowedOrigins, s.cfg.CORSAllowCredentials, h)
	h = observability.RecoverMiddleware("http.recover", h)
	h = observability.RequestIDMiddleware(h)
	return otelhttp.NewHandler(h, "subsurface")
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info(nil, "shutting down", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
