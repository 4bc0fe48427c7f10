// Package registry holds the in-memory job and workflow registries. They
// are the authoritative owners of all domain records; every other
// component carries ids and looks records up on use.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/pkg/model"
)

// DefaultProgressMinDelta is the minimum percent change between published
// progress events when no threshold is configured.
const DefaultProgressMinDelta = 1.0

// Jobs is the concurrency-safe store of Job records. Status transitions
// are validated; terminal states are write-once; progress is monotone and
// clamped. Every accepted status change publishes on the job's topic, and
// progress updates publish subject to coalescing. SetResult and SetError
// do not publish; their fields reach subscribers with the next status or
// progress event.
type Jobs struct {
	mu            sync.Mutex
	jobs          map[string]*model.Job
	byWorkflow    map[string][]string
	lastPublished map[string]float64

	bus      *eventbus.Bus
	logger   *slog.Logger
	minDelta float64

	// onMutated is invoked after a mutation's job event has been
	// published, outside the registry lock. The workflow registry hooks
	// it to recompute aggregates.
	onMutated func(workflowID string)
}

// NewJobs creates an empty job registry publishing on bus.
func NewJobs(bus *eventbus.Bus, minDelta float64, logger *slog.Logger) *Jobs {
	if minDelta <= 0 {
		minDelta = DefaultProgressMinDelta
	}
	return &Jobs{
		jobs:          make(map[string]*model.Job),
		byWorkflow:    make(map[string][]string),
		lastPublished: make(map[string]float64),
		bus:           bus,
		logger:        logger.With("component", "job-registry"),
		minDelta:      minDelta,
	}
}

// SetOnMutated installs the aggregate-recompute hook. Called once during
// wiring, before any traffic.
func (r *Jobs) SetOnMutated(fn func(workflowID string)) {
	r.onMutated = fn
}

// Create inserts a new job record. The workflow registry calls this while
// materializing a validated submission.
func (r *Jobs) Create(job *model.Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.byWorkflow[job.WorkflowID] = append(r.byWorkflow[job.WorkflowID], job.ID)
	r.mu.Unlock()
}

// Get returns a copy of the job or an UNKNOWN_JOB error.
func (r *Jobs) Get(id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		err := model.NewNotFoundError("job", id)
		err.Kind = model.KindUnknownJob
		return nil, err
	}
	return job.Clone(), nil
}

// ListByWorkflow returns copies of the workflow's jobs in creation order.
func (r *Jobs) ListByWorkflow(workflowID string) []*model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byWorkflow[workflowID]
	out := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// UpdateStatus applies a validated status transition. Illegal transitions
// return an InvalidTransitionError and leave state unchanged. Terminal
// transitions stamp FinishedAt; entering RUNNING stamps StartedAt; entering
// SUCCEEDED completes the progress counters.
func (r *Jobs) UpdateStatus(id string, next model.JobStatus, kind model.ErrorKind, msg string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		err := model.NewNotFoundError("job", id)
		err.Kind = model.KindUnknownJob
		return err
	}
	if !job.Status.CanTransitionTo(next) {
		from := job.Status
		r.mu.Unlock()
		r.logger.Error("invalid job transition rejected",
			"job_id", id, "from", from.String(), "to", next.String())
		return &model.InvalidTransitionError{
			Entity: "job", ID: id, From: from.String(), To: next.String(),
		}
	}

	now := time.Now().UTC()
	job.Status = next
	switch {
	case next == model.JobStatusRunning:
		job.StartedAt = &now
	case next.IsTerminal():
		job.FinishedAt = &now
	}
	if next == model.JobStatusSucceeded {
		job.ProgressPercent = 100
		if job.TilesTotal > 0 {
			job.TilesProcessed = job.TilesTotal
		}
	}
	if kind != "" {
		job.ErrorKind = kind
	}
	if msg != "" {
		job.ErrorMessage = msg
	}
	r.lastPublished[id] = job.ProgressPercent
	event := model.NewJobProgressEvent(job)
	workflowID := job.WorkflowID
	r.mu.Unlock()

	r.bus.Publish(model.TopicJob(id), event)
	r.notify(workflowID)
	return nil
}

// UpdateProgress records a progress report from a running job. Percent is
// clamped to [0,100] and never decreases; reports against non-RUNNING jobs
// are dropped. A progress event is published only when the change clears
// the coalescing threshold.
func (r *Jobs) UpdateProgress(id string, percent float64, tilesProcessed, tilesTotal int) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		r.mu.Unlock()
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < job.ProgressPercent {
		percent = job.ProgressPercent
	}
	job.ProgressPercent = percent
	if tilesProcessed > job.TilesProcessed {
		job.TilesProcessed = tilesProcessed
	}
	if tilesTotal > 0 {
		job.TilesTotal = tilesTotal
	}

	publish := percent-r.lastPublished[id] >= r.minDelta || percent == 100
	var event model.JobProgressEvent
	if publish {
		r.lastPublished[id] = percent
		event = model.NewJobProgressEvent(job)
	}
	workflowID := job.WorkflowID
	r.mu.Unlock()

	if publish {
		r.bus.Publish(model.TopicJob(id), event)
		r.notify(workflowID)
	}
}

// SetResult marks the job's result artifact as available. The payload
// itself lives in the result archive.
func (r *Jobs) SetResult(id string) {
	r.mu.Lock()
	if job, ok := r.jobs[id]; ok {
		job.ResultAvailable = true
	}
	r.mu.Unlock()
}

// SetError records an error classification on the job without touching its
// status.
func (r *Jobs) SetError(id string, kind model.ErrorKind, msg string) {
	r.mu.Lock()
	if job, ok := r.jobs[id]; ok {
		job.ErrorKind = kind
		job.ErrorMessage = msg
	}
	r.mu.Unlock()
}

func (r *Jobs) notify(workflowID string) {
	if r.onMutated != nil {
		r.onMutated(workflowID)
	}
}
