package model

import "time"

// Job is the unit the scheduler dispatches; one Job maps to one runner
// invocation. Jobs belong to exactly one workflow branch and execute in
// branch position order.
type Job struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	BranchID   string    `json:"branch_id"`
	Position   int       `json:"position"`
	Type       JobType   `json:"type"`
	Status     JobStatus `json:"status"`

	InputImagePath string         `json:"input_image_path"`
	Params         map[string]any `json:"params,omitempty"`

	// ProgressPercent is clamped to [0,100] and never decreases while the
	// job is RUNNING.
	ProgressPercent float64 `json:"progress_percent"`
	TilesProcessed  int     `json:"tiles_processed"`
	TilesTotal      int     `json:"tiles_total"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	ResultAvailable bool `json:"result_available"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy of the job safe to hand outside the registry.
func (j *Job) Clone() *Job {
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// JobView is the read-only projection returned from queries and handed to
// runners.
type JobView struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	BranchID        string         `json:"branch_id"`
	Position        int            `json:"position"`
	Type            JobType        `json:"type"`
	Status          JobStatus      `json:"status"`
	InputImagePath  string         `json:"input_image_path"`
	Params          map[string]any `json:"params,omitempty"`
	ProgressPercent float64        `json:"progress_percent"`
	TilesProcessed  int            `json:"tiles_processed"`
	TilesTotal      int            `json:"tiles_total"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ResultAvailable bool           `json:"result_available"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// View returns the query projection of the job.
func (j *Job) View() JobView {
	return JobView{
		ID:              j.ID,
		WorkflowID:      j.WorkflowID,
		BranchID:        j.BranchID,
		Position:        j.Position,
		Type:            j.Type,
		Status:          j.Status,
		InputImagePath:  j.InputImagePath,
		Params:          j.Params,
		ProgressPercent: j.ProgressPercent,
		TilesProcessed:  j.TilesProcessed,
		TilesTotal:      j.TilesTotal,
		ErrorMessage:    j.ErrorMessage,
		ResultAvailable: j.ResultAvailable,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}
