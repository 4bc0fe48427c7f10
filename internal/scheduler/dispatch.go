package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/me/slideflow/internal/registry"
	"github.com/me/slideflow/internal/runner"
	"github.com/me/slideflow/pkg/model"
)

// dispatch runs one coordinator pass: survey ready jobs across admitted
// tenants, then launch them in order until the worker cap is reached.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	ready := s.surveyReady()
	for _, job := range ready {
		if s.running >= s.config.MaxWorkers {
			break
		}
		s.launchLocked(job)
	}
}

// surveyReady collects the ready head job of every branch of every
// non-terminal workflow of every admitted tenant. The result is ordered by
// (tenant admission time, workflow creation time, branch id, position),
// which is FIFO-fair across tenants and round-robins branches within a
// workflow because each branch contributes at most one head per pass.
func (s *Scheduler) surveyReady() []*model.Job {
	var ready []*model.Job
	for _, active := range s.tenants.ActiveUsers() {
		for _, wf := range s.workflows.ListByUser(active.UserID) {
			if wf.Status.IsTerminal() {
				continue
			}
			ready = append(ready, s.branchHeads(wf)...)
		}
	}
	return ready
}

// branchHeads returns the ready head of each branch in branch-id order.
// The head is the lowest-position job whose predecessors all SUCCEEDED; it
// is ready only while PENDING.
func (s *Scheduler) branchHeads(wf *model.Workflow) []*model.Job {
	branchIDs := make([]string, 0, len(wf.Branches))
	for id := range wf.Branches {
		branchIDs = append(branchIDs, id)
	}
	sort.Strings(branchIDs)

	var heads []*model.Job
	for _, branchID := range branchIDs {
		for _, jobID := range wf.Branches[branchID] {
			job, err := s.jobs.Get(jobID)
			if err != nil {
				s.logger.Error("branch references unknown job", "workflow_id", wf.ID, "job_id", jobID)
				break
			}
			if job.Status == model.JobStatusSucceeded {
				continue
			}
			if job.Status == model.JobStatusPending {
				heads = append(heads, job)
			}
			break
		}
	}
	return heads
}

// launchLocked transitions a ready job to RUNNING and starts its worker.
// Runs under the coordinator mutex.
func (s *Scheduler) launchLocked(job *model.Job) {
	if err := s.jobs.UpdateStatus(job.ID, model.JobStatusRunning, "", ""); err != nil {
		s.logger.Error("launch transition failed", "job_id", job.ID, "error", err)
		return
	}
	s.running++

	run, err := s.runners.Get(job.Type)
	if err != nil {
		// Types are validated at submission, so this is an internal
		// inconsistency; fail the job rather than wedge the branch.
		s.logger.Error("no runner for dispatched job", "job_id", job.ID, "type", string(job.Type))
		s.finishLocked(job, runner.Failed(model.KindRunnerCrash, err.Error()), nil)
		return
	}

	token := runner.NewCancelToken()
	s.cancels[job.ID] = token
	s.logger.Info("job launched",
		"job_id", job.ID, "workflow_id", job.WorkflowID,
		"branch_id", job.BranchID, "position", job.Position,
		"running", s.running)

	view := job.View()
	view.Status = model.JobStatusRunning
	s.wg.Add(1)
	go s.work(run, view, job, token)
}

// work executes one runner invocation on its own goroutine and feeds the
// outcome back to the coordinator. A panicking runner yields RUNNER_CRASH.
func (s *Scheduler) work(run runner.Runner, view model.JobView, job *model.Job, token *runner.CancelToken) {
	defer s.wg.Done()

	outcome := s.invoke(run, view, token)
	s.complete(job, token, outcome)
	s.Notify()
}

func (s *Scheduler) invoke(run runner.Runner, view model.JobView, token *runner.CancelToken) (out runner.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("runner panicked", "job_id", view.ID, "panic", fmt.Sprint(r))
			out = runner.Failed(model.KindRunnerCrash, fmt.Sprintf("runner panic: %v", r))
		}
	}()

	sink := &registrySink{jobs: s.jobs, jobID: view.ID}
	return run.Run(context.Background(), view, sink, token)
}

// complete applies a runner outcome under the coordinator mutex.
func (s *Scheduler) complete(job *model.Job, token *runner.CancelToken, outcome runner.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finishLocked(job, outcome, token)
}

// finishLocked transitions a RUNNING job to its terminal state, applies the
// branch failure policy, releases the permit, and accounts the tenant.
func (s *Scheduler) finishLocked(job *model.Job, outcome runner.Outcome, token *runner.CancelToken) {
	status := outcome.Status
	kind := outcome.ErrKind
	msg := outcome.ErrMessage

	// A cancellation request that lands while the runner is finishing
	// wins over a successful outcome; the partial result is discarded.
	if status == model.JobStatusSucceeded && token != nil && token.Requested() {
		status = model.JobStatusCancelled
		kind = model.KindCancelledByRequest
		msg = ""
		outcome.Result = nil
	}
	if status == model.JobStatusCancelled && kind == "" {
		kind = model.KindCancelledByRequest
	}

	if status == model.JobStatusSucceeded && outcome.Result != nil {
		if s.archive != nil {
			if err := s.archive.Put(job.ID, outcome.Result.ContentType, outcome.Result.Data); err != nil {
				s.logger.Error("archive result", "job_id", job.ID, "error", err)
			} else {
				s.jobs.SetResult(job.ID)
			}
		}
	}

	if err := s.jobs.UpdateStatus(job.ID, status, kind, msg); err != nil {
		s.logger.Error("completion transition failed", "job_id", job.ID, "error", err)
	}
	s.logger.Info("job finished", "job_id", job.ID, "status", status.String(), "kind", string(kind))

	if status == model.JobStatusFailed {
		s.drainBranchLocked(job)
	}

	delete(s.cancels, job.ID)
	s.running--
	if wf, err := s.workflows.Get(job.WorkflowID); err == nil {
		s.tenants.OnJobTerminal(wf.UserID)
	}
	if s.onFinished != nil {
		s.onFinished(status)
	}
}

// drainBranchLocked cancels the still-PENDING successors of a failed job
// within its own branch. Other branches of the workflow continue.
func (s *Scheduler) drainBranchLocked(failed *model.Job) {
	wf, err := s.workflows.Get(failed.WorkflowID)
	if err != nil {
		return
	}
	for _, jobID := range wf.Branches[failed.BranchID] {
		job, err := s.jobs.Get(jobID)
		if err != nil || job.Position <= failed.Position {
			continue
		}
		if job.Status != model.JobStatusPending {
			continue
		}
		if err := s.jobs.UpdateStatus(jobID, model.JobStatusCancelled,
			model.KindSkippedDuePredecessor,
			fmt.Sprintf("predecessor %s failed", failed.ID)); err != nil {
			s.logger.Error("skip successor", "job_id", jobID, "error", err)
			continue
		}
		s.tenants.OnJobTerminal(wf.UserID)
		if s.onFinished != nil {
			s.onFinished(model.JobStatusCancelled)
		}
	}
}

// registrySink relays runner progress reports into the job registry, which
// clamps, enforces monotonicity, and coalesces events.
type registrySink struct {
	jobs  *registry.Jobs
	jobID string
}

func (s *registrySink) Update(percent float64, tilesProcessed, tilesTotal int) {
	s.jobs.UpdateProgress(s.jobID, percent, tilesProcessed, tilesTotal)
}
