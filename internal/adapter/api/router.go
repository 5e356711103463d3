package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/logpipe/internal/adapter/api/handler"
	"github.com/V4T54L/logpipe/internal/adapter/api/middleware"
)

// NewRouter creates and configures the HTTP router for the demo shop API.
// metricsHandler is mounted on /metrics.
func NewRouter(shop *handler.ShopHandler, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", shop.ListUsers)
		r.Get("/users/{id}", shop.GetUser)
		r.Get("/orders", shop.ListOrders)
		r.Post("/orders", shop.CreateOrder)
		r.Get("/orders/{id}", shop.GetOrder)
		r.Get("/products", shop.ListProducts)
	})

	r.Handle("/metrics", metricsHandler)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
