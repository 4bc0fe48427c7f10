package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/slideflow/pkg/model"
)

// handleGetJob returns one job owned by the caller. GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	job, ok := s.ownedJob(w, r, reqID)
	if !ok {
		return
	}
	respondOK(w, reqID, job.View())
}

// handleGetJobResult streams the archived result artifact of a SUCCEEDED
// job. 404 until the job succeeded and its artifact landed in the archive.
// GET /api/v1/jobs/{id}/result
func (s *Server) handleGetJobResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if job, err := s.jobs.Get(id); err == nil {
		if job.Status != model.JobStatusSucceeded {
			respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("result", id))
			return
		}
		wf, err := s.workflows.Get(job.WorkflowID)
		if err == nil && wf.UserID != UserIDFromContext(r.Context()) {
			respondError(w, reqID, http.StatusForbidden,
				model.NewForbiddenError("job belongs to another user"))
			return
		}
	}

	// Unknown to the registries is fine: artifacts outlive in-memory
	// state, so the archive is still consulted.
	if s.archive == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("result", id))
		return
	}
	contentType, data, err := s.archive.Get(id)
	if err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleCancelJob cancels one PENDING job of the caller.
// POST /api/v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	job, ok := s.ownedJob(w, r, reqID)
	if !ok {
		return
	}
	if err := s.scheduler.CancelJob(job.ID); err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	updated, err := s.jobs.Get(job.ID)
	if err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	respondOK(w, reqID, updated.View())
}

// ownedJob loads the job from the id route parameter and checks ownership
// through its workflow. Mismatches are 403.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request, reqID string) (*model.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(id)
	if err != nil {
		respondAPIError(w, reqID, err)
		return nil, false
	}
	wf, err := s.workflows.Get(job.WorkflowID)
	if err != nil {
		respondAPIError(w, reqID, err)
		return nil, false
	}
	if wf.UserID != UserIDFromContext(r.Context()) {
		respondError(w, reqID, http.StatusForbidden,
			model.NewForbiddenError("job belongs to another user"))
		return nil, false
	}
	return job, true
}
