/**
 * @description
 * This file sets up the HTTP router for the drop-payment engine using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rugue/forage-stores-backend-sub000/internal/app"
)

// NewRouter creates a new Chi router and registers the engine's routes.
func NewRouter(h *Handler, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription engine is healthy"))
	})

	// Protected routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.handleCreateSubscription)
			r.Get("/", h.handleListSubscriptions)

			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Get("/", h.handleGetSubscription)
				r.Post("/pause", h.handleTransition(app.ActionPause))
				r.Post("/resume", h.handleTransition(app.ActionResume))
				r.Post("/cancel", h.handleTransition(app.ActionCancel))
				r.Post("/reactivate", h.handleTransition(app.ActionReactivate))
				r.Post("/process-drop", h.handleProcessDrop)

				r.Group(func(r chi.Router) {
					r.Use(RequireAdmin)
					r.Get("/conflicts", h.handleListSubscriptionConflicts)
					r.Post("/conflicts/scan", h.handleScanConflicts)
				})
			})
		})

		r.With(RequireAdmin).Get("/conflicts", h.handleListConflicts)
	})

	return r
}
