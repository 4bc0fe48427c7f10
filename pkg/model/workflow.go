package model

import "time"

// Workflow is a named, user-owned unit of work composed of independent
// branches. Branches execute in parallel; jobs within a branch execute in
// position order.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	// Branches maps branch id to the ordered job ids of that branch.
	Branches map[string][]string `json:"branches"`

	Status WorkflowStatus `json:"status"`

	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	SucceededJobs int `json:"succeeded_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CancelledJobs int `json:"cancelled_jobs"`

	ProgressPercent float64 `json:"progress_percent"`

	// CancelRequested is latched by cancellation and never retracted. A
	// terminal workflow with this set and no SUCCEEDED job after the
	// request derives CANCELLED rather than FAILED.
	CancelRequested bool `json:"-"`
}

// Clone returns a copy of the workflow safe to hand outside the registry.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Branches = make(map[string][]string, len(w.Branches))
	for id, jobs := range w.Branches {
		c.Branches[id] = append([]string(nil), jobs...)
	}
	return &c
}

// WorkflowView is the projection returned from queries.
type WorkflowView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	UserID          string         `json:"user_id"`
	Status          WorkflowStatus `json:"status"`
	TotalJobs       int            `json:"total_jobs"`
	PendingJobs     int            `json:"pending_jobs"`
	RunningJobs     int            `json:"running_jobs"`
	SucceededJobs   int            `json:"succeeded_jobs"`
	FailedJobs      int            `json:"failed_jobs"`
	CancelledJobs   int            `json:"cancelled_jobs"`
	ProgressPercent float64        `json:"progress_percent"`
	CreatedAt       time.Time      `json:"created_at"`
}

// View returns the query projection of the workflow.
func (w *Workflow) View() WorkflowView {
	return WorkflowView{
		ID:              w.ID,
		Name:            w.Name,
		UserID:          w.UserID,
		Status:          w.Status,
		TotalJobs:       w.TotalJobs,
		PendingJobs:     w.PendingJobs,
		RunningJobs:     w.RunningJobs,
		SucceededJobs:   w.SucceededJobs,
		FailedJobs:      w.FailedJobs,
		CancelledJobs:   w.CancelledJobs,
		ProgressPercent: w.ProgressPercent,
		CreatedAt:       w.CreatedAt,
	}
}

// SubmitRequest is the workflow submission payload.
type SubmitRequest struct {
	Name string `json:"name"`
	DAG  DAG    `json:"dag"`
}

// DAG describes the branch structure of a submission.
type DAG struct {
	Branches map[string][]JobSpec `json:"branches"`
}

// JobSpec describes one job within a submitted branch.
type JobSpec struct {
	Type           JobType        `json:"type"`
	InputImagePath string         `json:"input_image_path"`
	Params         map[string]any `json:"params,omitempty"`
}
