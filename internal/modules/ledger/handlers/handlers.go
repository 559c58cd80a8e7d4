// Package handlers provides HTTP handlers for the transaction ledger and audit log.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// Handler handles ledger HTTP requests
type Handler struct {
	transactions *ledger.TransactionRepository
	audit        *ledger.AuditRepository
	clock        func() time.Time
	log          zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(transactions *ledger.TransactionRepository, audit *ledger.AuditRepository, log zerolog.Logger) *Handler {
	return &Handler{
		transactions: transactions,
		audit:        audit,
		clock:        func() time.Time { return time.Now().UTC() },
		log:          log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetTransactions lists transactions. Query: account_id (repeatable),
// from and to (YYYY-MM-DD; default Jan 1 of this year through today).
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []int64
	for _, s := range q["account_id"] {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		ids = append(ids, id)
	}

	today := domain.DateOnly(h.clock())
	from := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	to := today
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		if s := q.Get(name); s != "" {
			d, err := domain.ParseDate(s)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
				return
			}
			*dst = d
		}
	}

	txs, err := h.transactions.Transactions(r.Context(), ids, from, to)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// HandleAppendTransactions records imported transactions
func (h *Handler) HandleAppendTransactions(w http.ResponseWriter, r *http.Request) {
	var txs []domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ids, err := h.transactions.Append(r.Context(), txs)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids})
}

// HandleGetAudit lists audit entries. Query: entity, entity_id, limit.
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.audit.List(r.Context(), q.Get("entity"), q.Get("entity_id"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list audit log")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
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
