// Package tenant enforces the active-user cap. Tenants with work hold one
// of max_active_users slots or wait in a FIFO queue; the scheduler
// dispatches only for slot holders.
package tenant

import (
	"log/slog"
	"sync"
	"time"

	"github.com/me/slideflow/pkg/model"
)

// State is the admission state of one tenant.
type State string

const (
	StateIdle   State = "IDLE"
	StateActive State = "ACTIVE"
	StateQueued State = "QUEUED"
)

type record struct {
	userID          string
	state           State
	workflows       map[string]struct{}
	nonTerminalJobs int
	admittedAt      time.Time
	queuedAt        time.Time
}

// Manager tracks per-user admission state and the FIFO wait queue.
type Manager struct {
	mu        sync.Mutex
	maxActive int
	tenants   map[string]*record
	queue     []string
	active    int
	logger    *slog.Logger

	// onAdmitted fires outside the lock after a queued tenant gains a
	// slot; the scheduler hooks it to re-survey ready work.
	onAdmitted func(userID string)
}

// NewManager creates a Manager enforcing maxActive concurrent tenants.
func NewManager(maxActive int, logger *slog.Logger) *Manager {
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Manager{
		maxActive: maxActive,
		tenants:   make(map[string]*record),
		logger:    logger.With("component", "tenant-manager"),
	}
}

// SetOnAdmitted installs the admission callback. Called once during
// wiring, before any traffic.
func (m *Manager) SetOnAdmitted(fn func(userID string)) {
	m.onAdmitted = fn
}

// Register accounts a new workflow's jobs to the user and admits or
// enqueues the user as capacity allows. Idempotent per (user, workflow).
// A user resubmitting while ACTIVE or QUEUED keeps its position.
func (m *Manager) Register(userID, workflowID string, jobCount int) {
	var admitted []string

	m.mu.Lock()
	rec, ok := m.tenants[userID]
	if !ok {
		rec = &record{userID: userID, state: StateIdle, workflows: make(map[string]struct{})}
		m.tenants[userID] = rec
	}
	if _, seen := rec.workflows[workflowID]; seen {
		m.mu.Unlock()
		return
	}
	rec.workflows[workflowID] = struct{}{}
	rec.nonTerminalJobs += jobCount

	if rec.state == StateIdle {
		if m.active < m.maxActive {
			m.admitLocked(rec)
			admitted = append(admitted, userID)
		} else {
			rec.state = StateQueued
			rec.queuedAt = time.Now().UTC()
			m.queue = append(m.queue, userID)
			m.logger.Info("tenant queued", "user_id", userID, "queue_len", len(m.queue))
		}
	}
	m.mu.Unlock()

	m.fireAdmitted(admitted)
}

// OnJobTerminal accounts one finished job to the user. When the user's
// aggregate non-terminal count reaches zero its slot is released and the
// next queued tenant is admitted. Release is on the tenant aggregate, not
// per workflow, so a tenant chaining workflows keeps its slot.
func (m *Manager) OnJobTerminal(userID string) {
	var admitted []string

	m.mu.Lock()
	rec, ok := m.tenants[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if rec.nonTerminalJobs > 0 {
		rec.nonTerminalJobs--
	}
	if rec.nonTerminalJobs == 0 {
		switch rec.state {
		case StateActive:
			rec.state = StateIdle
			rec.workflows = make(map[string]struct{})
			m.active--
			m.logger.Info("tenant slot released", "user_id", userID)
			admitted = m.admitNextLocked()
		case StateQueued:
			// All of the user's work was cancelled before admission.
			rec.state = StateIdle
			rec.workflows = make(map[string]struct{})
			m.removeQueuedLocked(userID)
		}
	}
	m.mu.Unlock()

	m.fireAdmitted(admitted)
}

// IsActive reports whether the user currently holds an active slot.
func (m *Manager) IsActive(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tenants[userID]
	return ok && rec.state == StateActive
}

// ActiveUsers returns the ids of slot holders ordered by admission time.
func (m *Manager) ActiveUsers() []struct {
	UserID     string
	AdmittedAt time.Time
} {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []struct {
		UserID     string
		AdmittedAt time.Time
	}
	for _, rec := range m.tenants {
		if rec.state == StateActive {
			out = append(out, struct {
				UserID     string
				AdmittedAt time.Time
			}{rec.userID, rec.admittedAt})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].AdmittedAt.Before(out[j-1].AdmittedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Snapshot returns the tenant slot usage for the status surface.
func (m *Manager) Snapshot() model.TenantStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return model.TenantStatus{
		ActiveUsers:    m.active,
		MaxActiveUsers: m.maxActive,
		QueuedUsers:    len(m.queue),
	}
}

func (m *Manager) admitLocked(rec *record) {
	rec.state = StateActive
	rec.admittedAt = time.Now().UTC()
	m.active++
	m.logger.Info("tenant admitted", "user_id", rec.userID, "active", m.active)
}

// admitNextLocked admits queued tenants in FIFO order while slots remain.
func (m *Manager) admitNextLocked() []string {
	var admitted []string
	for m.active < m.maxActive && len(m.queue) > 0 {
		userID := m.queue[0]
		m.queue = m.queue[1:]
		rec := m.tenants[userID]
		if rec == nil || rec.state != StateQueued {
			continue
		}
		m.admitLocked(rec)
		admitted = append(admitted, userID)
	}
	return admitted
}

func (m *Manager) removeQueuedLocked(userID string) {
	for i, id := range m.queue {
		if id == userID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) fireAdmitted(userIDs []string) {
	if m.onAdmitted == nil {
		return
	}
	for _, id := range userIDs {
		m.onAdmitted(id)
	}
}
