package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/kiranshivaraju/adlens/internal/api/handler"
	mw "github.com/kiranshivaraju/adlens/internal/api/middleware"
	"github.com/kiranshivaraju/adlens/internal/api/response"
	"go.uber.org/zap"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	RateLimit      *mw.RateLimit

	Jobs    *handler.JobHandler
	Health  http.HandlerFunc
	Metrics http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", mw.RequestIDHeader},
		ExposedHeaders: []string{mw.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.CodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/health", orNotImplemented(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Get("/health", orNotImplemented(deps.Health))

		if deps.Jobs == nil {
			return
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", deps.Jobs.Submit)
			r.Get("/", deps.Jobs.List)
			r.Get("/{jobID}", deps.Jobs.Get)
			r.Get("/{jobID}/result", deps.Jobs.Result)
			r.Get("/{jobID}/records", deps.Jobs.Records)
			r.Delete("/{jobID}", deps.Jobs.Delete)
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
