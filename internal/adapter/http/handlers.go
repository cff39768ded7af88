package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var inc domain.IncidentReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&inc); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	stored, created, err := s.svc.CreateIncident(r.Context(), inc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	sharedobs.WriteJSON(w, status, stored)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		incidents []domain.IncidentReport
		err       error
	)
	if author := strings.TrimSpace(r.URL.Query().Get("user_email")); author != "" {
		incidents, err = s.svc.History(r.Context(), author)
	} else {
		incidents, err = s.svc.ListRecent(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if incidents == nil {
		incidents = []domain.IncidentReport{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	updated, err := s.svc.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Predict(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap.View())
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error()})
	case errors.Is(err, domain.ErrNotFound):
		sharedobs.WriteJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		sharedobs.WriteJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
