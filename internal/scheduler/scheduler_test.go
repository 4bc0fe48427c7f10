package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/internal/registry"
	"github.com/me/slideflow/internal/runner"
	"github.com/me/slideflow/internal/tenant"
	"github.com/me/slideflow/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startedJob is one gated runner invocation under test control.
type startedJob struct {
	view    model.JobView
	sink    runner.ProgressSink
	outcome chan runner.Outcome
}

// gatedRunner blocks each invocation until the test supplies its outcome,
// so tests decide exactly when and how jobs finish.
type gatedRunner struct {
	jobType     model.JobType
	started     chan startedJob
	ignoreToken bool
}

func (r *gatedRunner) Type() model.JobType { return r.jobType }

func (r *gatedRunner) Run(ctx context.Context, view model.JobView, sink runner.ProgressSink, token *runner.CancelToken) runner.Outcome {
	s := startedJob{view: view, sink: sink, outcome: make(chan runner.Outcome, 1)}
	r.started <- s
	if r.ignoreToken {
		return <-s.outcome
	}
	select {
	case out := <-s.outcome:
		return out
	case <-token.Done():
		return runner.Cancelled()
	case <-ctx.Done():
		return runner.Cancelled()
	}
}

// memArchive is an in-memory ResultArchive.
type memArchive struct {
	mu    sync.Mutex
	data  map[string][]byte
	types map[string]string
}

func newMemArchive() *memArchive {
	return &memArchive{data: make(map[string][]byte), types: make(map[string]string)}
}

func (a *memArchive) Put(jobID, contentType string, data []byte) error {
	a.mu.Lock()
	a.data[jobID] = data
	a.types[jobID] = contentType
	a.mu.Unlock()
	return nil
}

func (a *memArchive) get(jobID string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.data[jobID]
	return d, ok
}

type testEnv struct {
	jobs      *registry.Jobs
	workflows *registry.Workflows
	tenants   *tenant.Manager
	sched     *Scheduler
	archive   *memArchive
	seg       *gatedRunner
}

func newTestEnv(t *testing.T, maxWorkers, maxActiveUsers int) *testEnv {
	t.Helper()
	logger := newTestLogger()
	bus := eventbus.New(256, logger)
	jobs := registry.NewJobs(bus, 1.0, logger)

	runners := runner.NewRegistry(logger)
	seg := &gatedRunner{jobType: model.JobTypeSegmentation, started: make(chan startedJob, 64)}
	runners.Register(seg)

	workflows := registry.NewWorkflows(jobs, bus, 1.0, runners.Known, logger)
	tenants := tenant.NewManager(maxActiveUsers, logger)
	archive := newMemArchive()

	sched := New(jobs, workflows, tenants, runners, archive,
		Config{MaxWorkers: maxWorkers}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)
	t.Cleanup(func() {
		sched.Stop()
		cancel()
		bus.Shutdown()
	})

	return &testEnv{
		jobs:      jobs,
		workflows: workflows,
		tenants:   tenants,
		sched:     sched,
		archive:   archive,
		seg:       seg,
	}
}

// submitBranches submits a workflow with the named branches, each holding
// jobCount segmentation jobs.
func (e *testEnv) submitBranches(t *testing.T, userID, name string, branches map[string]int) *model.Workflow {
	t.Helper()
	dag := model.DAG{Branches: make(map[string][]model.JobSpec)}
	for branchID, jobCount := range branches {
		specs := make([]model.JobSpec, jobCount)
		for i := range specs {
			specs[i] = model.JobSpec{Type: model.JobTypeSegmentation, InputImagePath: "/slides/test.svs"}
		}
		dag.Branches[branchID] = specs
	}
	wf, err := e.sched.Submit(userID, &model.SubmitRequest{Name: name, DAG: dag})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return wf
}

func nextStarted(t *testing.T, r *gatedRunner) startedJob {
	t.Helper()
	select {
	case s := <-r.started:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a job to start")
		return startedJob{}
	}
}

func noStart(t *testing.T, r *gatedRunner) {
	t.Helper()
	select {
	case s := <-r.started:
		t.Fatalf("unexpected job start: %s (branch %s)", s.view.ID, s.view.BranchID)
	case <-time.After(100 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func (e *testEnv) jobStatus(t *testing.T, id string) model.JobStatus {
	t.Helper()
	job, err := e.jobs.Get(id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job.Status
}

func (e *testEnv) workflowStatus(t *testing.T, id string) model.WorkflowStatus {
	t.Helper()
	wf, err := e.workflows.Get(id)
	if err != nil {
		t.Fatalf("get workflow %s: %v", id, err)
	}
	return wf.Status
}

func TestBranchJobsRunInOrder(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	wf := env.submitBranches(t, "alice", "slide-1", map[string]int{"b1": 2})

	first := nextStarted(t, env.seg)
	if first.view.Position != 0 {
		t.Fatalf("first started position = %d, want 0", first.view.Position)
	}
	// The successor must wait for its predecessor.
	noStart(t, env.seg)

	first.outcome <- runner.Succeeded(&runner.Result{ContentType: "application/json", Data: []byte(`{}`)})

	second := nextStarted(t, env.seg)
	if second.view.Position != 1 {
		t.Fatalf("second started position = %d, want 1", second.view.Position)
	}
	second.outcome <- runner.Succeeded(&runner.Result{ContentType: "application/json", Data: []byte(`{}`)})

	eventually(t, func() bool {
		return env.workflowStatus(t, wf.ID) == model.WorkflowStatusSucceeded
	}, "workflow SUCCEEDED")

	// Both artifacts landed in the archive and are flagged on the jobs.
	for _, id := range wf.Branches["b1"] {
		if _, ok := env.archive.get(id); !ok {
			t.Errorf("no archived result for %s", id)
		}
		job, _ := env.jobs.Get(id)
		if !job.ResultAvailable {
			t.Errorf("job %s result not flagged", id)
		}
	}
}

func TestWorkerCapHoldsAcrossBranches(t *testing.T) {
	env := newTestEnv(t, 2, 2)
	env.submitBranches(t, "alice", "slide-1", map[string]int{
		"b1": 1, "b2": 1, "b3": 1, "b4": 1, "b5": 1,
	})

	// Exactly two jobs launch, in branch-id order.
	first := nextStarted(t, env.seg)
	second := nextStarted(t, env.seg)
	if first.view.BranchID != "b1" || second.view.BranchID != "b2" {
		t.Fatalf("started branches = %s, %s, want b1, b2", first.view.BranchID, second.view.BranchID)
	}
	noStart(t, env.seg)

	if snap := env.sched.Snapshot(); snap.RunningJobs != 2 {
		t.Fatalf("running = %d, want 2", snap.RunningJobs)
	}

	// Finishing one frees exactly one slot for the next branch.
	first.outcome <- runner.Succeeded(nil)
	third := nextStarted(t, env.seg)
	if third.view.BranchID != "b3" {
		t.Fatalf("third started branch = %s, want b3", third.view.BranchID)
	}
	noStart(t, env.seg)

	second.outcome <- runner.Succeeded(nil)
	third.outcome <- runner.Succeeded(nil)
	fourth := nextStarted(t, env.seg)
	fifth := nextStarted(t, env.seg)
	fourth.outcome <- runner.Succeeded(nil)
	fifth.outcome <- runner.Succeeded(nil)

	eventually(t, func() bool {
		return env.sched.Snapshot().RunningJobs == 0
	}, "all workers released")
}

func TestTenantCapGatesDispatch(t *testing.T) {
	env := newTestEnv(t, 4, 1)
	aliceWF := env.submitBranches(t, "alice", "slide-a", map[string]int{"b1": 1})
	bobWF := env.submitBranches(t, "bob", "slide-b", map[string]int{"b1": 1})

	// Only alice holds a slot; bob's job must not start.
	first := nextStarted(t, env.seg)
	if first.view.WorkflowID != aliceWF.ID {
		t.Fatalf("started workflow = %s, want alice's %s", first.view.WorkflowID, aliceWF.ID)
	}
	noStart(t, env.seg)

	first.outcome <- runner.Succeeded(nil)

	second := nextStarted(t, env.seg)
	if second.view.WorkflowID != bobWF.ID {
		t.Fatalf("started workflow = %s, want bob's %s", second.view.WorkflowID, bobWF.ID)
	}
	second.outcome <- runner.Succeeded(nil)

	eventually(t, func() bool {
		return env.workflowStatus(t, bobWF.ID) == model.WorkflowStatusSucceeded
	}, "bob's workflow SUCCEEDED")
}

func TestFailureDrainsBranchOnly(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	wf := env.submitBranches(t, "alice", "slide-1", map[string]int{"j": 2, "k": 2})

	// Heads of both branches launch.
	heads := map[string]startedJob{}
	for i := 0; i < 2; i++ {
		s := nextStarted(t, env.seg)
		heads[s.view.BranchID] = s
	}

	// j1 fails; j2 must be skipped while k continues.
	heads["j"].outcome <- runner.Failed(model.KindRunnerCrash, "gpu fell over")

	j2 := wf.Branches["j"][1]
	eventually(t, func() bool {
		return env.jobStatus(t, j2) == model.JobStatusCancelled
	}, "j2 skipped")
	job, _ := env.jobs.Get(j2)
	if job.ErrorKind != model.KindSkippedDuePredecessor {
		t.Errorf("j2 kind = %s, want SKIPPED_DUE_TO_PREDECESSOR", job.ErrorKind)
	}

	heads["k"].outcome <- runner.Succeeded(nil)
	k2 := nextStarted(t, env.seg)
	if k2.view.BranchID != "k" {
		t.Fatalf("started branch = %s, want k", k2.view.BranchID)
	}
	k2.outcome <- runner.Succeeded(nil)

	eventually(t, func() bool {
		return env.workflowStatus(t, wf.ID) == model.WorkflowStatusFailed
	}, "workflow FAILED")

	got, _ := env.workflows.Get(wf.ID)
	if got.SucceededJobs != 2 || got.FailedJobs != 1 || got.CancelledJobs != 1 {
		t.Errorf("counters = %d/%d/%d succeeded/failed/cancelled, want 2/1/1",
			got.SucceededJobs, got.FailedJobs, got.CancelledJobs)
	}
}

func TestCancelWorkflowMidFlight(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	wf := env.submitBranches(t, "alice", "slide-1", map[string]int{"b1": 2})

	running := nextStarted(t, env.seg)
	running.sink.Update(40, 40, 100)
	eventually(t, func() bool {
		job, _ := env.jobs.Get(running.view.ID)
		return job.ProgressPercent == 40
	}, "progress recorded")

	if err := env.sched.CancelWorkflow(wf.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The running job sees its token and stops; the pending successor is
	// cancelled without ever starting.
	eventually(t, func() bool {
		return env.workflowStatus(t, wf.ID) == model.WorkflowStatusCancelled
	}, "workflow CANCELLED")

	for _, id := range wf.Branches["b1"] {
		job, _ := env.jobs.Get(id)
		if job.Status != model.JobStatusCancelled {
			t.Errorf("job %s = %s, want CANCELLED", id, job.Status)
		}
		if job.ErrorKind != model.KindCancelledByRequest {
			t.Errorf("job %s kind = %s, want CANCELLED_BY_REQUEST", id, job.ErrorKind)
		}
	}
	noStart(t, env.seg)

	// Cancellation is idempotent.
	if err := env.sched.CancelWorkflow(wf.ID); err != nil {
		t.Errorf("second cancel: %v", err)
	}
}

func TestCancelRaceDiscardsLateSuccess(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	env.seg.ignoreToken = true
	wf := env.submitBranches(t, "alice", "slide-1", map[string]int{"b1": 1})

	running := nextStarted(t, env.seg)
	if err := env.sched.CancelWorkflow(wf.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The runner never noticed the token and reports success anyway.
	running.outcome <- runner.Succeeded(&runner.Result{ContentType: "application/json", Data: []byte(`{}`)})

	eventually(t, func() bool {
		return env.jobStatus(t, running.view.ID) == model.JobStatusCancelled
	}, "late success overridden by cancellation")

	job, _ := env.jobs.Get(running.view.ID)
	if job.ErrorKind != model.KindCancelledByRequest {
		t.Errorf("kind = %s, want CANCELLED_BY_REQUEST", job.ErrorKind)
	}
	if job.ResultAvailable {
		t.Errorf("discarded result flagged available")
	}
	if _, ok := env.archive.get(running.view.ID); ok {
		t.Errorf("discarded result archived")
	}
}

func TestCancelJobPendingOnly(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	wf := env.submitBranches(t, "alice", "slide-1", map[string]int{"b1": 2})

	running := nextStarted(t, env.seg)

	// Running jobs are not individually cancellable.
	err := env.sched.CancelJob(running.view.ID)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrConflict {
		t.Fatalf("err = %v, want CONFLICT", err)
	}

	// The pending successor is.
	pending := wf.Branches["b1"][1]
	if err := env.sched.CancelJob(pending); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got := env.jobStatus(t, pending); got != model.JobStatusCancelled {
		t.Fatalf("pending job = %s, want CANCELLED", got)
	}

	running.outcome <- runner.Succeeded(nil)

	// With its successor gone the workflow drains terminal.
	eventually(t, func() bool {
		return env.workflowStatus(t, wf.ID).IsTerminal()
	}, "workflow terminal")
	noStart(t, env.seg)
}

func TestFIFOReadmissionAcrossTenants(t *testing.T) {
	env := newTestEnv(t, 8, 2)
	wfs := map[string]*model.Workflow{}
	for _, user := range []string{"a", "b", "c", "d"} {
		wfs[user] = env.submitBranches(t, user, "slide-"+user, map[string]int{"b1": 1})
	}

	// a and b hold the two slots.
	first := nextStarted(t, env.seg)
	second := nextStarted(t, env.seg)
	started := map[string]startedJob{
		ownerOf(t, env, first):  first,
		ownerOf(t, env, second): second,
	}
	if _, ok := started["a"]; !ok {
		t.Fatalf("a not dispatched")
	}
	if _, ok := started["b"]; !ok {
		t.Fatalf("b not dispatched")
	}
	noStart(t, env.seg)

	// a drains; c was queued first and must be admitted before d.
	started["a"].outcome <- runner.Succeeded(nil)
	third := nextStarted(t, env.seg)
	if owner := ownerOf(t, env, third); owner != "c" {
		t.Fatalf("admitted %s, want c", owner)
	}
	noStart(t, env.seg)

	started["b"].outcome <- runner.Succeeded(nil)
	fourth := nextStarted(t, env.seg)
	if owner := ownerOf(t, env, fourth); owner != "d" {
		t.Fatalf("admitted %s, want d", owner)
	}

	third.outcome <- runner.Succeeded(nil)
	fourth.outcome <- runner.Succeeded(nil)
	for user, wf := range wfs {
		eventually(t, func() bool {
			return env.workflowStatus(t, wf.ID) == model.WorkflowStatusSucceeded
		}, "workflow of "+user+" SUCCEEDED")
	}
}

func ownerOf(t *testing.T, env *testEnv, s startedJob) string {
	t.Helper()
	wf, err := env.workflows.Get(s.view.WorkflowID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	return wf.UserID
}

func TestStopSignalsRunningJobs(t *testing.T) {
	env := newTestEnv(t, 4, 2)
	env.submitBranches(t, "alice", "slide-1", map[string]int{"b1": 1})

	running := nextStarted(t, env.seg)
	if err := env.sched.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Stop waits for workers, so the job is terminal by now.
	if got := env.jobStatus(t, running.view.ID); got != model.JobStatusCancelled {
		t.Fatalf("job after stop = %s, want CANCELLED", got)
	}
}
