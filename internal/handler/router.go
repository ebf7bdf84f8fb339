package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/paygate/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платёжного шлюза.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Post("/checkout", h.InitiateCheckout)
			r.Get("/checkout/result", h.CheckoutResult)
			r.Post("/checkout/result", h.CheckoutResult)

			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/payment", h.GetPayment)
				r.Post("/capture", h.Capture)
				r.Post("/refund", h.Refund)
				r.Post("/void", h.Void)
				r.Post("/split-payment", h.InitializeSplitPayment)
			})

			r.Post("/vendors/{vendorId}/subaccount", h.ProvisionSubaccount)
		})

		// Подпись проверяется по телу запроса как есть, без распаковки gzip.
		r.Group(func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/webhooks/paystack", h.PaystackWebhook)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
