// internal/deposit/handler.go
package deposit

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bookyourshoot/pkg/statestore"
)

type Handler struct {
	service Service
	log     *logrus.Logger
}

func NewHandler(service Service, log *logrus.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCollect)
	r.Get("/guidance", h.handleGuidance)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/history", h.handleHistory)
	r.Post("/{id}/return", h.handleBeginReturn)
	r.Post("/{id}/review", h.handleFinalizeReview)
	return r
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DepositID       uuid.UUID       `json:"deposit_id"`
		RentalID        uuid.UUID       `json:"rental_id"`
		DepositAmount   decimal.Decimal `json:"deposit_amount"`
		RentalFeeAmount decimal.Decimal `json:"rental_fee_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	dep, err := h.service.Collect(r.Context(), CollectRequest{
		DepositID:       req.DepositID,
		RentalID:        req.RentalID,
		DepositAmount:   req.DepositAmount,
		RentalFeeAmount: req.RentalFeeAmount,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dep)
}

func (h *Handler) handleGuidance(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, DeductionGuidance())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	dep, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleBeginReturn(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		DamageCategory    DamageCategory  `json:"damage_category"`
		ProposedDeduction decimal.Decimal `json:"proposed_deduction"`
		EvidenceCount     int             `json:"evidence_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	dep, err := h.service.BeginReturn(r.Context(), id, ReturnRequest{
		DamageCategory:    req.DamageCategory,
		ProposedDeduction: req.ProposedDeduction,
		EvidenceCount:     req.EvidenceCount,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

func (h *Handler) handleFinalizeReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		ApprovedAmount decimal.Decimal `json:"approved_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	dep, err := h.service.FinalizeReview(r.Context(), id, req.ApprovedAmount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, statestore.ErrStaleRead):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrEvidenceRequired),
		errors.Is(err, ErrDeductionOutOfBounds),
		errors.Is(err, ErrUnknownDamageCategory):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.log.WithError(err).Error("deposit request failed")
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
