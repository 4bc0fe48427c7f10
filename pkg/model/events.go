package model

// Topic names for the event bus.
const (
	TopicSystem = "system"
)

// TopicWorkflow returns the event topic for one workflow.
func TopicWorkflow(id string) string {
	return "workflow." + id
}

// TopicJob returns the event topic for one job.
func TopicJob(id string) string {
	return "job." + id
}

// JobProgressEvent is published on job.<id> for every job mutation that
// clears the coalescing threshold, plus every status change.
type JobProgressEvent struct {
	Type            string    `json:"type"`
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	TilesProcessed  int       `json:"tiles_processed"`
	TilesTotal      int       `json:"tiles_total"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// NewJobProgressEvent builds the wire record for a job's current state.
func NewJobProgressEvent(j *Job) JobProgressEvent {
	return JobProgressEvent{
		Type:            "progress",
		JobID:           j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		TilesProcessed:  j.TilesProcessed,
		TilesTotal:      j.TilesTotal,
		ErrorMessage:    j.ErrorMessage,
	}
}

// WorkflowProgressEvent is published on workflow.<id> whenever the
// workflow's aggregate state changes.
type WorkflowProgressEvent struct {
	Type            string         `json:"type"`
	WorkflowID      string         `json:"workflow_id"`
	Status          WorkflowStatus `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
	CompletedJobs   int            `json:"completed_jobs"`
	FailedJobs      int            `json:"failed_jobs"`
	TotalJobs       int            `json:"total_jobs"`
}

// NewWorkflowProgressEvent builds the wire record for a workflow's current
// aggregate state.
func NewWorkflowProgressEvent(w *Workflow) WorkflowProgressEvent {
	return WorkflowProgressEvent{
		Type:            "workflow_progress",
		WorkflowID:      w.ID,
		Status:          w.Status,
		ProgressPercent: w.ProgressPercent,
		CompletedJobs:   w.SucceededJobs,
		FailedJobs:      w.FailedJobs,
		TotalJobs:       w.TotalJobs,
	}
}

// OverflowEvent marks dropped events on a subscription whose queue
// overflowed. Subscribers that see one know their view may be stale and
// should resynchronize from a registry snapshot.
type OverflowEvent struct {
	Type    string `json:"type"`
	Dropped int    `json:"dropped"`
}

// SystemStatusEvent is the wire record for a global status snapshot on the
// system topic. Nothing in this module publishes it; the same figures are
// served by the /status endpoint.
type SystemStatusEvent struct {
	Type           string `json:"type"`
	RunningJobs    int    `json:"running_jobs"`
	MaxWorkers     int    `json:"max_workers"`
	ActiveUsers    int    `json:"active_users"`
	MaxActiveUsers int    `json:"max_active_users"`
	QueuedUsers    int    `json:"queued_users"`
}
