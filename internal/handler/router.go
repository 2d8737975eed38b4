package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/paygate-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платёжного шлюза.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pay/initiate", h.Initiate)
		r.Get("/pay/status", h.PaymentStatus)

		// Провайдеры уведомляют кто как умеет: часть шлёт GET с
		// параметрами в query, часть POST с form или JSON-телом.
		r.Get("/pay/notify/{provider}", h.Notify)
		r.Post("/pay/notify/{provider}", h.Notify)

		r.Post("/recharge", h.CreateRecharge)
	})

	r.Get("/metrics", custommiddleware.MetricsHandler().ServeHTTP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
