package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/taxpayers", h.HandleGetTaxpayers)
		r.Get("/accounts", h.HandleGetAccounts)
		r.Get("/lots", h.HandleGetLots)           // ?account_id= may repeat
		r.Get("/positions", h.HandleGetPositions) // broker-reported quantities
		r.Get("/cash", h.HandleGetCash)           // ?as_of=YYYY-MM-DD
	})
}
