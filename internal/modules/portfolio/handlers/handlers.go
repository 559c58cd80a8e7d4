// Package handlers provides HTTP handlers for holdings inspection.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	positions domain.PositionRepository
	clock     func() time.Time
	log       zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(positions domain.PositionRepository, log zerolog.Logger) *Handler {
	return &Handler{
		positions: positions,
		clock:     func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetTaxpayers lists taxpayer entities
func (h *Handler) HandleGetTaxpayers(w http.ResponseWriter, r *http.Request) {
	taxpayers, err := h.positions.Taxpayers(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list taxpayers")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, taxpayers)
}

// HandleGetAccounts lists accounts
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.positions.Accounts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// HandleGetLots lists open lots, optionally filtered by account
func (h *Handler) HandleGetLots(w http.ResponseWriter, r *http.Request) {
	ids, err := accountIDs(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lots, err := h.positions.Lots(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list lots")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, lots)
}

// HandleGetPositions lists broker-reported positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	ids, err := accountIDs(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.positions.Positions(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list positions")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// HandleGetCash lists the latest cash balance of each account as of a date
// (default today)
func (h *Handler) HandleGetCash(w http.ResponseWriter, r *http.Request) {
	ids, err := accountIDs(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asOf := domain.DateOnly(h.clock())
	if s := r.URL.Query().Get("as_of"); s != "" {
		if asOf, err = domain.ParseDate(s); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	balances, err := h.positions.CashBalances(r.Context(), ids, asOf)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list cash balances")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

func accountIDs(r *http.Request) ([]int64, error) {
	raw := r.URL.Query()["account_id"]
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account_id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
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
