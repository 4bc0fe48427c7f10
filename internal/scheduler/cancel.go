package scheduler

import (
	"github.com/me/slideflow/pkg/model"
)

// CancelWorkflow marks every non-terminal job of the workflow: PENDING
// jobs transition directly to CANCELLED, RUNNING jobs receive a cancel
// signal and finish through their worker. Idempotent; cannot be retracted.
func (s *Scheduler) CancelWorkflow(id string) error {
	wf, err := s.workflows.Get(id)
	if err != nil {
		return err
	}
	s.workflows.MarkCancelRequested(id)

	s.mu.Lock()
	var signalled, drained int
	for _, jobIDs := range wf.Branches {
		for _, jobID := range jobIDs {
			job, err := s.jobs.Get(jobID)
			if err != nil {
				continue
			}
			switch job.Status {
			case model.JobStatusPending:
				if err := s.jobs.UpdateStatus(jobID, model.JobStatusCancelled,
					model.KindCancelledByRequest, ""); err != nil {
					continue
				}
				s.tenants.OnJobTerminal(wf.UserID)
				if s.onFinished != nil {
					s.onFinished(model.JobStatusCancelled)
				}
				drained++
			case model.JobStatusRunning:
				if token, ok := s.cancels[jobID]; ok {
					token.Signal()
					signalled++
				}
			}
		}
	}
	s.mu.Unlock()

	s.logger.Info("workflow cancellation requested",
		"workflow_id", id, "pending_cancelled", drained, "running_signalled", signalled)
	s.Notify()
	return nil
}

// CancelJob cancels one PENDING job. Running jobs are not individually
// cancellable; callers get a CONFLICT error for any non-PENDING job.
func (s *Scheduler) CancelJob(id string) error {
	job, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusPending {
		return &model.APIError{
			Code:    model.ErrConflict,
			Message: "only PENDING jobs can be cancelled individually",
		}
	}

	s.mu.Lock()
	err = s.jobs.UpdateStatus(id, model.JobStatusCancelled, model.KindCancelledByRequest, "")
	if err == nil {
		if wf, werr := s.workflows.Get(job.WorkflowID); werr == nil {
			s.tenants.OnJobTerminal(wf.UserID)
		}
		if s.onFinished != nil {
			s.onFinished(model.JobStatusCancelled)
		}
		// Successors in the branch can no longer satisfy their
		// predecessor requirement.
		s.drainBranchLocked(job)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.logger.Info("job cancelled", "job_id", id)
	s.Notify()
	return nil
}
