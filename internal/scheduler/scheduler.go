// Package scheduler contains the dispatch coordinator. It pulls ready jobs
// from admitted tenants, enforces the global worker cap, launches runners,
// and applies completions back to the registries.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/me/slideflow/internal/registry"
	"github.com/me/slideflow/internal/runner"
	"github.com/me/slideflow/internal/tenant"
	"github.com/me/slideflow/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	MaxWorkers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 4}
}

// ResultArchive persists the artifacts of SUCCEEDED jobs. Satisfied by the
// sqlite-backed store.
type ResultArchive interface {
	Put(jobID, contentType string, data []byte) error
}

// Scheduler is the dispatch coordinator. All registry mutations it performs
// happen under one mutex; worker goroutines run user-supplied runners
// concurrently and re-enter the coordinator only through complete.
type Scheduler struct {
	jobs      *registry.Jobs
	workflows *registry.Workflows
	tenants   *tenant.Manager
	runners   *runner.Registry
	archive   ResultArchive
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	running int
	cancels map[string]*runner.CancelToken
	stopped bool

	// onFinished fires once per job reaching a terminal state. The
	// metrics layer hooks it.
	onFinished func(status model.JobStatus)

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. The archive may be nil, in which case results
// are neither stored nor flagged as available.
func New(jobs *registry.Jobs, workflows *registry.Workflows, tenants *tenant.Manager, runners *runner.Registry, archive ResultArchive, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	s := &Scheduler{
		jobs:      jobs,
		workflows: workflows,
		tenants:   tenants,
		runners:   runners,
		archive:   archive,
		config:    cfg,
		logger:    logger.With("component", "scheduler"),
		cancels:   make(map[string]*runner.CancelToken),
		notifyCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	tenants.SetOnAdmitted(func(string) { s.Notify() })
	return s
}

// SetOnJobFinished installs the terminal-job callback. Called once during
// wiring, before Start.
func (s *Scheduler) SetOnJobFinished(fn func(status model.JobStatus)) {
	s.onFinished = fn
}

// Submit validates and materializes a workflow for userID, registers the
// tenant, and wakes the dispatch loop.
func (s *Scheduler) Submit(userID string, req *model.SubmitRequest) (*model.Workflow, error) {
	wf, err := s.workflows.Create(userID, req)
	if err != nil {
		return nil, err
	}
	s.tenants.Register(userID, wf.ID, wf.TotalJobs)
	s.Notify()
	return wf, nil
}

// Notify signals that something may be schedulable. Never blocks.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop. Blocks until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "max_workers", s.config.MaxWorkers)
	s.dispatch()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping (context cancelled)")
			close(s.doneCh)
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("scheduler stopping (stop called)")
			close(s.doneCh)
			return nil
		case <-s.notifyCh:
			s.dispatch()
		}
	}
}

// Stop shuts the scheduler down: running jobs receive a cancel signal, the
// loop exits, and Stop blocks until every worker has returned.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	if !alreadyStopped {
		for _, token := range s.cancels {
			token.Signal()
		}
	}
	s.mu.Unlock()

	if !alreadyStopped {
		close(s.stopCh)
	}
	<-s.doneCh
	s.wg.Wait()
	return nil
}

// Snapshot reports dispatch capacity usage for the status surface.
func (s *Scheduler) Snapshot() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.SchedulerStatus{
		RunningJobs: s.running,
		MaxWorkers:  s.config.MaxWorkers,
	}
}
