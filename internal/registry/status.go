package registry

import "github.com/me/slideflow/pkg/model"

// deriveStatus maps job counters onto the workflow status. All-pending
// workflows are PENDING; fully terminal workflows derive their terminal
// status from the cancellation flag and the failure count; everything in
// between is RUNNING.
func deriveStatus(wf *model.Workflow, pending, running, succeeded, failed, cancelled int) model.WorkflowStatus {
	total := pending + running + succeeded + failed + cancelled
	switch {
	case total == 0 || pending == total:
		return model.WorkflowStatusPending
	case succeeded+failed+cancelled == total:
		if wf.CancelRequested && cancelled > 0 {
			return model.WorkflowStatusCancelled
		}
		if failed > 0 {
			return model.WorkflowStatusFailed
		}
		if cancelled > 0 {
			return model.WorkflowStatusCancelled
		}
		return model.WorkflowStatusSucceeded
	default:
		return model.WorkflowStatusRunning
	}
}
