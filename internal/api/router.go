package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ubertone/peacock-go/internal/auth"
)

// NewRouter creates and returns the main HTTP router. Triggering a
// measurement needs a key from keys unless keys is nil or in open mode.
func NewRouter(ctrl Controller, keys *auth.Service, bus EventBus) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{ctrl: ctrl, events: bus}

	// Acquisition state
	r.Get("/api", h.getState)
	r.Get("/api/", h.getState)
	r.Get("/api/info", h.getInfo)
	r.Get("/api/config", h.getConfig)

	// Profiles
	r.Get("/api/profile", h.getProfile)
	r.Group(func(r chi.Router) {
		if keys != nil {
			r.Use(keys.Middleware)
		}
		r.Post("/api/measure", h.measure)
	})

	// SSE
	r.Get("/api/subscribe", h.sseEvents)

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
