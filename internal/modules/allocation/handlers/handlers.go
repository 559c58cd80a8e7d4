// Package handlers provides HTTP handlers for bucket policies and assignments.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/allocation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles allocation HTTP requests
type Handler struct {
	repo *allocation.Repository
	log  zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(repo *allocation.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "allocation").Logger(),
	}
}

// RegisterRoutes registers all allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/allocation/policies", func(r chi.Router) {
		r.Get("/", h.HandleGetPolicies)
		r.Post("/", h.HandleCreatePolicy)
		r.Get("/{id}/assignments", h.HandleGetAssignments)
		r.Put("/{id}/assignments/{ticker}", h.HandleAssign)
	})
}

// HandleGetPolicies lists every policy version
func (h *Handler) HandleGetPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.repo.Policies(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list policies")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, policies)
}

// HandleCreatePolicy stores a new policy version
func (h *Handler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.BucketPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p.ID = 0
	id, err := h.repo.CreatePolicy(r.Context(), p)
	if err != nil {
		h.writeWriteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// HandleGetAssignments lists the bucket assignments of one policy version
func (h *Handler) HandleGetAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	assignments, err := h.repo.Assignments(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("policy_id", id).Msg("Failed to list assignments")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, assignments)
}

type assignRequest struct {
	Bucket domain.BucketCode `json:"bucket_code"`
}

// HandleAssign maps a ticker to a bucket in one policy version
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a := domain.BucketAssignment{PolicyID: id, Ticker: strings.ToUpper(chi.URLParam(r, "ticker")), Bucket: req.Bucket}
	if err := h.repo.Assign(r.Context(), a); err != nil {
		h.writeWriteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) policyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid policy id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeWriteError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidPolicy) {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Policy write failed")
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
