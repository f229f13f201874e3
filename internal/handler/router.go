package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/cash-drawer/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware денежного ящика.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Encoding"},
		MaxAge:         300,
	}))
	r.Use(custommiddleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/instances", h.CreateInstance)

		r.Route("/instances/{instanceID}", func(r chi.Router) {
			r.Get("/", h.GetInstance)

			r.Get("/products", h.ListProducts)
			r.Post("/products", h.CreateProduct)
			r.Put("/products/{productID}", h.UpdateProduct)
			r.Delete("/products/{productID}", h.DeleteProduct)

			r.Get("/discounts", h.ListDiscounts)
			r.Post("/discounts", h.CreateDiscount)

			r.Get("/ledger", h.ListLedger)
			r.Post("/ledger", h.CreateLedgerEntry)

			r.Get("/balance", h.GetBalance)
			r.Post("/sales", h.FinalizeSale)
			r.Get("/payouts/{kind}/{name}", h.SuggestPayout)
		})

		r.Post("/ledger/{entryID}/revert", h.RevertEntry)
		r.Delete("/discounts/{discountID}", h.DeleteDiscount)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
