package registry

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJobs(t *testing.T) (*Jobs, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(64, newTestLogger())
	return NewJobs(bus, 1.0, newTestLogger()), bus
}

func seedJob(r *Jobs, id string) *model.Job {
	job := &model.Job{
		ID:         id,
		WorkflowID: "wf-1",
		BranchID:   "b1",
		Type:       model.JobTypeSegmentation,
		Status:     model.JobStatusPending,
	}
	r.Create(job)
	return job
}

func TestGetUnknownJob(t *testing.T) {
	r, _ := testJobs(t)

	_, err := r.Get("nope")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != model.ErrNotFound || apiErr.Kind != model.KindUnknownJob {
		t.Errorf("err = %+v, want NOT_FOUND/UNKNOWN_JOB", apiErr)
	}
}

func TestUpdateStatusStampsTimes(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")

	if err := r.UpdateStatus("j1", model.JobStatusRunning, "", ""); err != nil {
		t.Fatalf("to RUNNING: %v", err)
	}
	job, _ := r.Get("j1")
	if job.StartedAt == nil {
		t.Errorf("StartedAt not stamped on RUNNING")
	}
	if job.FinishedAt != nil {
		t.Errorf("FinishedAt stamped before terminal")
	}

	if err := r.UpdateStatus("j1", model.JobStatusSucceeded, "", ""); err != nil {
		t.Fatalf("to SUCCEEDED: %v", err)
	}
	job, _ = r.Get("j1")
	if job.FinishedAt == nil {
		t.Errorf("FinishedAt not stamped on terminal")
	}
	if job.ProgressPercent != 100 {
		t.Errorf("progress = %v, want 100 on SUCCEEDED", job.ProgressPercent)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")

	err := r.UpdateStatus("j1", model.JobStatusSucceeded, "", "")
	var transErr *model.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	job, _ := r.Get("j1")
	if job.Status != model.JobStatusPending {
		t.Errorf("status mutated by rejected transition: %s", job.Status)
	}
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")
	r.UpdateStatus("j1", model.JobStatusRunning, "", "")
	r.UpdateStatus("j1", model.JobStatusFailed, model.KindRunnerCrash, "boom")

	if err := r.UpdateStatus("j1", model.JobStatusSucceeded, "", ""); err == nil {
		t.Fatalf("terminal job accepted a status change")
	}
	job, _ := r.Get("j1")
	if job.Status != model.JobStatusFailed || job.ErrorKind != model.KindRunnerCrash {
		t.Errorf("job = %s/%s, want FAILED/RUNNER_CRASH", job.Status, job.ErrorKind)
	}
}

func TestUpdateProgressClampsAndMonotone(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")
	r.UpdateStatus("j1", model.JobStatusRunning, "", "")

	r.UpdateProgress("j1", 150, 60, 100)
	job, _ := r.Get("j1")
	if job.ProgressPercent != 100 {
		t.Errorf("progress = %v, want clamped to 100", job.ProgressPercent)
	}

	r.UpdateProgress("j1", 40, 40, 100)
	job, _ = r.Get("j1")
	if job.ProgressPercent != 100 {
		t.Errorf("progress regressed to %v", job.ProgressPercent)
	}

	r.UpdateProgress("j1", -10, 0, 0)
	job, _ = r.Get("j1")
	if job.ProgressPercent != 100 {
		t.Errorf("negative report moved progress to %v", job.ProgressPercent)
	}
}

func TestUpdateProgressIgnoredWhenNotRunning(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")

	r.UpdateProgress("j1", 50, 50, 100)
	job, _ := r.Get("j1")
	if job.ProgressPercent != 0 {
		t.Errorf("PENDING job accepted progress: %v", job.ProgressPercent)
	}
}

func TestProgressCoalescing(t *testing.T) {
	r, bus := testJobs(t)
	seedJob(r, "j1")
	r.UpdateStatus("j1", model.JobStatusRunning, "", "")

	sub := bus.Subscribe(model.TopicJob("j1"))
	defer bus.Close(sub)

	// Below the threshold: no event.
	r.UpdateProgress("j1", 0.5, 1, 100)
	if n := len(sub.Events()); n != 0 {
		t.Fatalf("%d events published below threshold", n)
	}

	// Cumulative change crosses the threshold: one event.
	r.UpdateProgress("j1", 1.2, 2, 100)
	if n := len(sub.Events()); n != 1 {
		t.Fatalf("%d events after crossing threshold, want 1", n)
	}
	<-sub.Events()

	// Reaching 100 always publishes.
	r.UpdateProgress("j1", 100, 100, 100)
	if n := len(sub.Events()); n != 1 {
		t.Fatalf("%d events at 100%%, want 1", n)
	}
	event := (<-sub.Events()).(model.JobProgressEvent)
	if event.ProgressPercent != 100 || event.TilesProcessed != 100 {
		t.Errorf("event = %+v", event)
	}
}

func TestStatusChangeAlwaysPublishes(t *testing.T) {
	r, bus := testJobs(t)
	seedJob(r, "j1")

	sub := bus.Subscribe(model.TopicJob("j1"))
	defer bus.Close(sub)

	r.UpdateStatus("j1", model.JobStatusRunning, "", "")
	event := (<-sub.Events()).(model.JobProgressEvent)
	if event.Status != model.JobStatusRunning {
		t.Errorf("event status = %s, want RUNNING", event.Status)
	}

	r.UpdateStatus("j1", model.JobStatusCancelled, model.KindCancelledByRequest, "")
	event = (<-sub.Events()).(model.JobProgressEvent)
	if event.Status != model.JobStatusCancelled {
		t.Errorf("event status = %s, want CANCELLED", event.Status)
	}
}

func TestOnMutatedFiresPerAcceptedMutation(t *testing.T) {
	r, _ := testJobs(t)
	seedJob(r, "j1")

	var calls []string
	r.SetOnMutated(func(workflowID string) { calls = append(calls, workflowID) })

	r.UpdateStatus("j1", model.JobStatusRunning, "", "")
	r.UpdateProgress("j1", 0.2, 1, 100) // coalesced away, no notify
	r.UpdateProgress("j1", 50, 50, 100)
	r.UpdateStatus("j1", model.JobStatusSucceeded, "", "")

	if len(calls) != 3 {
		t.Fatalf("onMutated fired %d times, want 3", len(calls))
	}
	for _, id := range calls {
		if id != "wf-1" {
			t.Errorf("notified for %s, want wf-1", id)
		}
	}
}
