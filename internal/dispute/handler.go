// internal/dispute/handler.go
package dispute

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
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
	r.Post("/", h.handleOpen)
	r.Get("/", h.handleListBySubject)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/close", h.handleClose)
	return r
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID   uuid.UUID `json:"subject_id"`
		RaisedBy    Party     `json:"raised_by"`
		Reason      string    `json:"reason"`
		Description string    `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.service.Open(r.Context(), OpenRequest{
		SubjectID:   req.SubjectID,
		RaisedBy:    req.RaisedBy,
		Reason:      req.Reason,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleListBySubject(w http.ResponseWriter, r *http.Request) {
	subjectID, err := uuid.Parse(r.URL.Query().Get("subject_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	disputes, err := h.service.ListBySubject(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, disputes)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.service.Close(r.Context(), id, req.Outcome)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrDuplicateDispute),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrWindowClosed):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrInvalidParty),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrSubjectNotEligible),
		errors.Is(err, ErrSubjectNotFound):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err)
	default:
		h.log.WithError(err).Error("dispute request failed")
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
