package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	custommiddleware "github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
)

func orderNumberParam(r *http.Request) string {
	return chi.URLParam(r, "number")
}

// fetchRole отдаёт роль пользователя для проверки доступа к админским маршрутам.
func (h *Handler) fetchRole(ctx context.Context, userID uuid.UUID) (model.Role, bool) {
	profile, err := h.service.GetProfile(ctx, userID)
	if err != nil {
		return "", false
	}
	return profile.Role, true
}

// SetupRouter настраивает HTTP-маршруты и middleware SMM-панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Get("/api/services", h.GetServices)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{number}", h.GetOrder)

			r.Get("/balance", h.GetBalance)
			r.Post("/balance/deposit", h.Deposit)

			r.Get("/transactions", h.GetTransactions)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRoles(h.fetchRole, model.RoleAdministrador))

			r.Post("/services/sync", h.SyncServices)
			r.Get("/provider/balance", h.GetProviderBalance)
			r.Get("/stats/profit", h.GetProfitStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRoles(h.fetchRole, model.RoleAdministrador, model.RoleSoporte))

			r.Post("/orders/{number}/refund", h.RefundOrder)
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
