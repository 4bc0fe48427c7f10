package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/pkg/model"
)

// Workflows is the concurrency-safe store of Workflow records. It owns the
// job registry: submissions materialize jobs through it, and every job
// mutation triggers an aggregate recompute here.
type Workflows struct {
	mu           sync.Mutex
	workflows    map[string]*model.Workflow
	order        []string
	lastProgress map[string]float64

	jobs      *Jobs
	bus       *eventbus.Bus
	logger    *slog.Logger
	minDelta  float64
	knownType func(model.JobType) bool
}

// NewWorkflows creates an empty workflow registry on top of jobs. knownType
// reports whether a runner is registered for a type tag and gates
// submission validation.
func NewWorkflows(jobs *Jobs, bus *eventbus.Bus, minDelta float64, knownType func(model.JobType) bool, logger *slog.Logger) *Workflows {
	if minDelta <= 0 {
		minDelta = DefaultProgressMinDelta
	}
	w := &Workflows{
		workflows:    make(map[string]*model.Workflow),
		lastProgress: make(map[string]float64),
		jobs:         jobs,
		bus:          bus,
		logger:       logger.With("component", "workflow-registry"),
		minDelta:     minDelta,
		knownType:    knownType,
	}
	jobs.SetOnMutated(w.Recompute)
	return w
}

// validateDAG checks the submitted branch structure without mutating any
// state. Branch ids must be non-empty and carry at least one job; every
// job needs a registered type tag and a non-blank input path.
func (r *Workflows) validateDAG(req *model.SubmitRequest) []model.FieldError {
	var errs []model.FieldError
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, model.FieldError{Field: "name", Message: "name is required"})
	}
	if len(req.DAG.Branches) == 0 {
		errs = append(errs, model.FieldError{Field: "dag.branches", Message: "at least one branch is required"})
		return errs
	}
	for branchID, specs := range req.DAG.Branches {
		if strings.TrimSpace(branchID) == "" {
			errs = append(errs, model.FieldError{Field: "dag.branches", Message: "branch id must not be blank"})
			continue
		}
		if len(specs) == 0 {
			errs = append(errs, model.FieldError{
				Path:    "dag.branches." + branchID,
				Message: "branch must contain at least one job",
			})
			continue
		}
		for i, spec := range specs {
			path := fmt.Sprintf("dag.branches.%s[%d]", branchID, i)
			if spec.Type == "" {
				errs = append(errs, model.FieldError{Path: path + ".type", Message: "type is required"})
			} else if r.knownType != nil && !r.knownType(spec.Type) {
				errs = append(errs, model.FieldError{
					Path:    path + ".type",
					Message: fmt.Sprintf("unknown job type %q", spec.Type),
				})
			}
			if strings.TrimSpace(spec.InputImagePath) == "" {
				errs = append(errs, model.FieldError{Path: path + ".input_image_path", Message: "input_image_path is required"})
			}
		}
	}
	return errs
}

// Create validates a submission and materializes the workflow and its jobs.
// Validation failures reject the submission with an INVALID_DAG error and
// mutate nothing.
func (r *Workflows) Create(userID string, req *model.SubmitRequest) (*model.Workflow, error) {
	if errs := r.validateDAG(req); len(errs) > 0 {
		return nil, model.NewDAGError(errs...)
	}

	now := time.Now().UTC()
	wf := &model.Workflow{
		ID:        uuid.NewString(),
		Name:      req.Name,
		UserID:    userID,
		CreatedAt: now,
		Branches:  make(map[string][]string, len(req.DAG.Branches)),
		Status:    model.WorkflowStatusPending,
	}

	branchIDs := make([]string, 0, len(req.DAG.Branches))
	for branchID := range req.DAG.Branches {
		branchIDs = append(branchIDs, branchID)
	}
	sort.Strings(branchIDs)

	for _, branchID := range branchIDs {
		specs := req.DAG.Branches[branchID]
		ids := make([]string, 0, len(specs))
		for pos, spec := range specs {
			job := &model.Job{
				ID:             uuid.NewString(),
				WorkflowID:     wf.ID,
				BranchID:       branchID,
				Position:       pos,
				Type:           spec.Type,
				Status:         model.JobStatusPending,
				InputImagePath: spec.InputImagePath,
				Params:         spec.Params,
				CreatedAt:      now,
			}
			r.jobs.Create(job)
			ids = append(ids, job.ID)
			wf.TotalJobs++
			wf.PendingJobs++
		}
		wf.Branches[branchID] = ids
	}

	r.mu.Lock()
	r.workflows[wf.ID] = wf
	r.order = append(r.order, wf.ID)
	snapshot := wf.Clone()
	r.mu.Unlock()

	r.logger.Info("workflow created",
		"workflow_id", wf.ID, "user_id", userID,
		"branches", len(wf.Branches), "jobs", wf.TotalJobs)
	return snapshot, nil
}

// Get returns a copy of the workflow or an UNKNOWN_WORKFLOW error.
func (r *Workflows) Get(id string) (*model.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[id]
	if !ok {
		err := model.NewNotFoundError("workflow", id)
		err.Kind = model.KindUnknownWorkflow
		return nil, err
	}
	return wf.Clone(), nil
}

// ListByUser returns the user's workflows in creation order.
func (r *Workflows) ListByUser(userID string) []*model.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Workflow
	for _, id := range r.order {
		if wf := r.workflows[id]; wf.UserID == userID {
			out = append(out, wf.Clone())
		}
	}
	return out
}

// MarkCancelRequested latches the cancellation flag. It is idempotent and
// never retracted; terminal-status derivation consults it.
func (r *Workflows) MarkCancelRequested(id string) {
	r.mu.Lock()
	if wf, ok := r.workflows[id]; ok {
		wf.CancelRequested = true
	}
	r.mu.Unlock()
}

// Recompute rederives the workflow's counters, mean progress, and status
// from its jobs, publishing a workflow event when the aggregate changed.
// Terminal status is write-once.
func (r *Workflows) Recompute(id string) {
	jobs := r.jobs.ListByWorkflow(id)

	r.mu.Lock()
	wf, ok := r.workflows[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	var pending, running, succeeded, failed, cancelled int
	var progressSum float64
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusPending:
			pending++
		case model.JobStatusRunning:
			running++
		case model.JobStatusSucceeded:
			succeeded++
		case model.JobStatusFailed:
			failed++
		case model.JobStatusCancelled:
			cancelled++
		}
		progressSum += j.ProgressPercent
	}

	progress := 0.0
	if len(jobs) > 0 {
		progress = progressSum / float64(len(jobs))
	}

	next := deriveStatus(wf, pending, running, succeeded, failed, cancelled)
	if wf.Status.IsTerminal() && next != wf.Status {
		r.logger.Error("terminal workflow status change rejected",
			"workflow_id", id, "from", wf.Status.String(), "to", next.String())
		next = wf.Status
	}

	statusChanged := next != wf.Status
	countersChanged := pending != wf.PendingJobs || running != wf.RunningJobs ||
		succeeded != wf.SucceededJobs || failed != wf.FailedJobs || cancelled != wf.CancelledJobs

	wf.Status = next
	wf.PendingJobs = pending
	wf.RunningJobs = running
	wf.SucceededJobs = succeeded
	wf.FailedJobs = failed
	wf.CancelledJobs = cancelled
	wf.ProgressPercent = progress

	publish := statusChanged || countersChanged ||
		progress-r.lastProgress[id] >= r.minDelta || progress == 100
	var event model.WorkflowProgressEvent
	if publish {
		r.lastProgress[id] = progress
		event = model.NewWorkflowProgressEvent(wf)
	}
	r.mu.Unlock()

	if publish {
		r.bus.Publish(model.TopicWorkflow(id), event)
	}
}
