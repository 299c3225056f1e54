package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/bartab/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бара.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", h.Register)
		r.Post("/users/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.With(h.withActor, h.staffOnly).Post("/bars", h.CreateBar)

			r.Route("/bars/{bar}", func(r chi.Router) {
				r.Use(h.withActor)

				r.Get("/", h.GetBar)
				r.Get("/settings", h.GetBarSettings)
				r.With(h.staffOnly).Put("/settings", h.UpdateBarSettings)

				r.Post("/accounts", h.OpenAccount)
				r.Get("/accounts/me", h.GetMyAccount)
				r.Get("/accounts/{id}", h.GetAccount)
				r.With(h.staffOnly).Delete("/accounts/{id}", h.DeleteAccount)
				r.With(h.staffOnly).Put("/accounts/{id}/staff", h.SetAccountStaff)
				r.With(h.staffOnly).Post("/accounts/{id}/agios", h.RunAccrual)
				r.With(h.staffOnly).Post("/agios", h.RunBarAccrual)

				r.With(h.staffOnly).Post("/items", h.CreateItem)

				r.Post("/transactions", h.SubmitTransaction)
				r.Get("/transactions/{id}", h.GetTransaction)
				r.Post("/transactions/{id}/cancel", h.CancelTransaction)
			})

			r.Get("/ranking/accounts", h.AccountRanking)
			r.Get("/ranking/items", h.ItemRanking)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
