// Package apiserver exposes a vamana.Index over plain JSON-over-HTTP.
// The teacher's REST layer sits in front of a gRPC service and speaks
// protobuf to it; that gRPC layer itself sits behind code generated by
// protoc, which this exercise cannot invoke. Since vamana.Index is a
// plain embeddable library (no multi-namespace store, no separate
// daemon process required), the REST layer here wraps it directly and
// drops the gRPC hop entirely -- see DESIGN.md for the full rationale.
package apiserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/vamana/pkg/apiserver/middleware"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/vamana"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSEnabled bool
	CORSOrigins []string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimitConfig
}

// Server serves a single vamana.Index over HTTP.
type Server struct {
	config     Config
	handler    *Handler
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wraps idx with routes, middleware, and an *http.Server ready
// to Start.
func NewServer(config Config, idx *vamana.Index, logger *observability.Logger, metrics *observability.Metrics) *Server {
	handler := NewHandler(idx, logger, metrics)

	server := &Server{
		config:  config,
		handler: handler,
		mux:     http.NewServeMux(),
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.withMiddleware(server.mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/health", s.handler.HealthCheck)
	s.mux.HandleFunc("/v1/stats", s.handler.Stats)
	s.mux.HandleFunc("/v1/build", s.handler.Build)
	s.mux.HandleFunc("/v1/query", s.handler.Query)
	s.mux.Handle("/v1/metrics", promhttp.Handler())
}

// withMiddleware wraps handler with logging, CORS, rate limiting, and
// auth. Each layer wraps the previous one, so auth is outermost and runs
// first, and logging is innermost.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = loggingMiddleware(handler)

	if s.config.CORSEnabled {
		handler = corsMiddleware(s.config.CORSOrigins)(handler)
	}

	rateLimiter := middleware.NewRateLimiter(s.config.RateLimit)
	handler = middleware.RateLimitMiddleware(rateLimiter)(handler)

	handler = middleware.AuthMiddleware(s.config.Auth)(handler)

	return handler
}

// Start runs the HTTP server until it is stopped or fails.
func (s *Server) Start() error {
	log.Printf("starting vamana apiserver on %s:%d", s.config.Host, s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("shutting down vamana apiserver...")
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %v", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				allowed = true
				origin = "*"
			} else {
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
