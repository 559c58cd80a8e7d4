package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all planning routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/planning", func(r chi.Router) {
		r.Post("/plans", h.HandleGeneratePlan)
		r.Get("/plans", h.HandleListPlans)
		r.Get("/plans/{id}", h.HandleGetPlan)
		r.Get("/drift", h.HandleGetDrift)
	})
}
