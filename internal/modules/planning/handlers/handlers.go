// Package handlers provides HTTP handlers for plan generation, plan
// retrieval and drift.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/planning"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles planning HTTP requests
type Handler struct {
	service *planning.Service
	log     zerolog.Logger
}

// NewHandler creates a new planning handler
func NewHandler(service *planning.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "planning").Logger(),
	}
}

// generateBody is the wire form of a plan request; dates are YYYY-MM-DD.
// Assumptions and options are decoded over the defaults, so omitted fields
// keep their default values.
type generateBody struct {
	Goal        domain.Goal          `json:"goal"`
	Scope       domain.TaxpayerScope `json:"scope"`
	AsOf        string               `json:"as_of,omitempty"`
	Assumptions json.RawMessage      `json:"assumptions,omitempty"`
	Options     json.RawMessage      `json:"options,omitempty"`
	Overrides   domain.OverrideSet   `json:"overrides,omitempty"`
	Finalize    bool                 `json:"finalize"`
	Actor       string               `json:"actor,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// HandleGeneratePlan runs one planning call and returns the stored plan
func (h *Handler) HandleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req := planning.GenerateRequest{
		Goal:      body.Goal,
		Scope:     body.Scope,
		Overrides: body.Overrides,
		Finalize:  body.Finalize,
		Actor:     body.Actor,
	}
	assumptions, options := h.service.Defaults()
	if present(body.Assumptions) {
		if err := json.Unmarshal(body.Assumptions, &assumptions); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid assumptions: "+err.Error())
			return
		}
		req.Assumptions = &assumptions
	}
	if present(body.Options) {
		if err := json.Unmarshal(body.Options, &options); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid options: "+err.Error())
			return
		}
		req.Options = &options
	}
	if body.AsOf != "" {
		asOf, err := domain.ParseDate(body.AsOf)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.AsOf = asOf
	}

	plan, err := h.service.GeneratePlan(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, plan)
}

// HandleListPlans returns plan summaries, newest first. Query: limit.
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	plans, err := h.service.ListPlans(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plans)
}

// HandleGetPlan returns one stored plan
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleGetDrift returns current drift. Query: scope (default BOTH), as_of.
func (h *Handler) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := domain.ScopeBoth
	if s := q.Get("scope"); s != "" {
		scope = domain.TaxpayerScope(s)
	}
	var asOf time.Time
	if s := q.Get("as_of"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		asOf = d
	}

	view, err := h.service.Drift(r.Context(), scope, asOf)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

var fatalErrors = []error{
	domain.ErrNoActivePolicy,
	domain.ErrInvalidAssumptions,
	domain.ErrEmptyScope,
	domain.ErrInvalidPolicy,
	domain.ErrInvalidGoal,
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrPlanNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, domain.ErrPlanExists) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	for _, fatal := range fatalErrors {
		if !errors.Is(err, fatal) {
			continue
		}
		var verrs *domain.ValidationErrors
		if errors.As(err, &verrs) {
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  err.Error(),
				"fields": verrs.Errors,
			})
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Planning request failed")
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
