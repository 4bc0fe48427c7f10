package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/slideflow/pkg/model"
)

// handleSubmitWorkflow accepts a submission, validates it, and hands it to
// the scheduler. POST /api/v1/workflows
func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	userID := UserIDFromContext(r.Context())

	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	wf, err := s.scheduler.Submit(userID, &req)
	if err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	respondCreated(w, reqID, wf.View())
}

// handleListWorkflows lists the calling user's workflows.
// GET /api/v1/workflows
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	userID := UserIDFromContext(r.Context())

	workflows := s.workflows.ListByUser(userID)
	views := make([]model.WorkflowView, 0, len(workflows))
	for _, wf := range workflows {
		views = append(views, wf.View())
	}
	respondOK(w, reqID, views)
}

// handleGetWorkflow returns one workflow owned by the caller.
// GET /api/v1/workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	wf, ok := s.ownedWorkflow(w, r, reqID)
	if !ok {
		return
	}
	respondOK(w, reqID, wf.View())
}

// handleListWorkflowJobs returns the jobs of one workflow in branch and
// position order. GET /api/v1/workflows/{id}/jobs
func (s *Server) handleListWorkflowJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	wf, ok := s.ownedWorkflow(w, r, reqID)
	if !ok {
		return
	}
	jobs := s.jobs.ListByWorkflow(wf.ID)
	views := make([]model.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	respondOK(w, reqID, views)
}

// handleCancelWorkflow requests cancellation of a workflow.
// POST /api/v1/workflows/{id}/cancel
func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	wf, ok := s.ownedWorkflow(w, r, reqID)
	if !ok {
		return
	}
	if err := s.scheduler.CancelWorkflow(wf.ID); err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	updated, err := s.workflows.Get(wf.ID)
	if err != nil {
		respondAPIError(w, reqID, err)
		return
	}
	respondOK(w, reqID, updated.View())
}

// ownedWorkflow loads the workflow from the id route parameter and checks
// that the caller owns it. Mismatches are 403.
func (s *Server) ownedWorkflow(w http.ResponseWriter, r *http.Request, reqID string) (*model.Workflow, bool) {
	id := chi.URLParam(r, "id")
	wf, err := s.workflows.Get(id)
	if err != nil {
		respondAPIError(w, reqID, err)
		return nil, false
	}
	if wf.UserID != UserIDFromContext(r.Context()) {
		respondError(w, reqID, http.StatusForbidden,
			model.NewForbiddenError("workflow belongs to another user"))
		return nil, false
	}
	return wf, true
}
