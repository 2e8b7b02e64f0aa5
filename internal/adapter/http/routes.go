package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mvanek/agentswarm/internal/config"
)

// NewRouter builds the chi router with the standard middleware stack and all
// API routes mounted.
func NewRouter(h *Handlers, cfg config.Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.CORSOrigin))

	MountRoutes(r, h)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Healthz)
	if h.WS != nil {
		r.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)

		// Brainstorming sessions
		r.Post("/sessions", h.StartSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/cancel", h.CancelSession)
		r.Get("/sessions/{id}/solutions", h.ConsolidateSession)
		r.Post("/sessions/{id}/refine", h.RefineSession)

		// Observability
		r.Get("/stats", h.GetStats)
		r.Get("/workers", h.ListWorkers)
	})
}

// cors sets the allow headers for the single configured origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
