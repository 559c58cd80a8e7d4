// Package handlers provides HTTP handlers for the security master and prices.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles universe HTTP requests
type Handler struct {
	securities *universe.SecurityRepository
	prices     *universe.PriceSource
	log        zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(securities *universe.SecurityRepository, prices *universe.PriceSource, log zerolog.Logger) *Handler {
	return &Handler{
		securities: securities,
		prices:     prices,
		log:        log.With().Str("handler", "universe").Logger(),
	}
}

// RegisterRoutes registers all universe routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/universe", func(r chi.Router) {
		r.Get("/securities", h.HandleGetSecurities)
		r.Get("/securities/{ticker}", h.HandleGetSecurity)
		r.Put("/securities/{ticker}", h.HandlePutSecurity)
		r.Put("/prices/{ticker}", h.HandlePutPrice)
	})
}

// HandleGetSecurities lists the security master
func (h *Handler) HandleGetSecurities(w http.ResponseWriter, r *http.Request) {
	securities, err := h.securities.Securities(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, securities)
}

// HandleGetSecurity returns one security
func (h *Handler) HandleGetSecurity(w http.ResponseWriter, r *http.Request) {
	sec, err := h.securities.GetByTicker(r.Context(), ticker(r))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sec)
}

// HandlePutSecurity creates or updates a security. The ticker comes from the path.
func (h *Handler) HandlePutSecurity(w http.ResponseWriter, r *http.Request) {
	var sec domain.Security
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sec.Ticker = ticker(r)
	if err := h.securities.Upsert(r.Context(), sec); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.HandleGetSecurity(w, r)
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// HandlePutPrice records the latest price of a security
func (h *Handler) HandlePutPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Price.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if err := h.prices.SetPrice(r.Context(), ticker(r), req.Price); err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ticker": ticker(r), "price": req.Price})
}

func ticker(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "ticker"))
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, universe.ErrSecurityNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Security lookup failed")
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
