// Package api serves the public submission endpoint of the gateway.
package api

import (
	"context"
	"net/http"

	"github.com/okian/hiscore/pkg/logger"
)

// Server wires HTTP routes for the gateway.
type Server struct {
	origin        string
	healthHandler *HealthHandler
	submitHandler *SubmitHandler
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	origin   string
	ipHeader string
	log      logger.Logger
}

// WithAllowedOrigin sets the single origin allowed to call the gateway.
func WithAllowedOrigin(origin string) Option {
	return func(c *serverConfig) {
		if origin != "" {
			c.origin = origin
		}
	}
}

// WithClientIPHeader trusts header for the caller address.
func WithClientIPHeader(header string) Option {
	return func(c *serverConfig) { c.ipHeader = header }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(s Submitter, opts ...Option) *Server {
	cfg := serverConfig{origin: "*", log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		origin:        cfg.origin,
		healthHandler: NewHealthHandler(),
		submitHandler: NewSubmitHandler(s, cfg.ipHeader, cfg.log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	submit := CORSMiddleware(s.submitHandler.HandleSubmit, s.origin)
	mux.HandleFunc("/{$}", MetricsMiddleware(submit, "submit"))
	mux.HandleFunc("/submit", MetricsMiddleware(submit, "submit"))
	mux.HandleFunc("/healthz", MetricsMiddleware(CORSMiddleware(s.healthHandler.HandleHealth, s.origin), "healthz"))
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/", MetricsMiddleware(CORSMiddleware(HandleNotFound, s.origin), "not_found"))
}
