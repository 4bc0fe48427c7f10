package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// StatusSnapshot is the /status surface.
type StatusSnapshot struct {
	Scheduler     SchedulerStatus `json:"scheduler"`
	TenantManager TenantStatus    `json:"tenant_manager"`
}

// SchedulerStatus reports dispatch capacity usage.
type SchedulerStatus struct {
	RunningJobs int `json:"running_jobs"`
	MaxWorkers  int `json:"max_workers"`
}

// TenantStatus reports tenant slot usage.
type TenantStatus struct {
	ActiveUsers    int `json:"active_users"`
	MaxActiveUsers int `json:"max_active_users"`
	QueuedUsers    int `json:"queued_users"`
}
