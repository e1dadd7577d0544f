package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"storefront/internal/platform/metrics"
	metadata "storefront/pkg/platform/middleware/metadata"
	"storefront/pkg/platform/middleware/requesttime"
)

// API is a handler group that mounts its own routes.
type API interface {
	RegisterHealth(r chi.Router)
	Register(r chi.Router)
}

// RouterConfig carries the cross-cutting middleware.
type RouterConfig struct {
	Logger *slog.Logger
	// Session binds every /api request to a shopper session.
	Session        func(http.Handler) http.Handler
	Metrics        *metrics.HTTP
	AllowedOrigins []string
	// RequestTimeout bounds one API request. It must exceed the provider
	// submit timeout.
	RequestTimeout time.Duration
}

// NewRouter wires the public endpoints. /healthz and /metrics skip the
// session middleware so probes never mint cookies.
func NewRouter(cfg RouterConfig, api API) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(metadata.AccessLog(logger))
	r.Use(cfg.Metrics.Middleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", metadata.RequestIDHeader},
			ExposedHeaders:   []string{metadata.RequestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	api.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		if cfg.Session != nil {
			r.Use(cfg.Session)
		}
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		api.Register(r)
	})
	return r
}
