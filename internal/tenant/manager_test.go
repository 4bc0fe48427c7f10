package tenant

import (
	"bytes"
	"log/slog"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegisterAdmitsUpToCap(t *testing.T) {
	m := NewManager(2, newTestLogger())

	m.Register("alice", "wf-1", 3)
	m.Register("bob", "wf-2", 2)
	m.Register("carol", "wf-3", 1)

	if !m.IsActive("alice") || !m.IsActive("bob") {
		t.Fatalf("alice and bob should hold slots")
	}
	if m.IsActive("carol") {
		t.Fatalf("carol admitted past the cap")
	}

	snap := m.Snapshot()
	if snap.ActiveUsers != 2 || snap.QueuedUsers != 1 {
		t.Fatalf("snapshot = %+v, want 2 active, 1 queued", snap)
	}
}

func TestFIFOAdmissionOnRelease(t *testing.T) {
	m := NewManager(2, newTestLogger())
	var admitted []string
	m.SetOnAdmitted(func(userID string) { admitted = append(admitted, userID) })

	m.Register("a", "wf-a", 1)
	m.Register("b", "wf-b", 1)
	m.Register("c", "wf-c", 1)
	m.Register("d", "wf-d", 1)

	admitted = nil

	// a finishes; c was queued first, so c gets the slot, not d.
	m.OnJobTerminal("a")
	if len(admitted) != 1 || admitted[0] != "c" {
		t.Fatalf("admitted = %v, want [c]", admitted)
	}
	if !m.IsActive("c") || m.IsActive("d") {
		t.Fatalf("c should be active, d still queued")
	}

	m.OnJobTerminal("b")
	if len(admitted) != 2 || admitted[1] != "d" {
		t.Fatalf("admitted = %v, want [c d]", admitted)
	}
}

func TestSlotHeldUntilAggregateDrains(t *testing.T) {
	m := NewManager(1, newTestLogger())

	m.Register("alice", "wf-1", 2)
	m.Register("alice", "wf-2", 1)
	m.Register("bob", "wf-3", 1)

	// Two of alice's three jobs finish; her slot must survive.
	m.OnJobTerminal("alice")
	m.OnJobTerminal("alice")
	if !m.IsActive("alice") {
		t.Fatalf("alice lost her slot with a job still outstanding")
	}
	if m.IsActive("bob") {
		t.Fatalf("bob admitted while alice holds the only slot")
	}

	m.OnJobTerminal("alice")
	if m.IsActive("alice") {
		t.Fatalf("alice still active with zero outstanding jobs")
	}
	if !m.IsActive("bob") {
		t.Fatalf("bob not admitted after alice released")
	}
}

func TestRegisterIdempotentPerWorkflow(t *testing.T) {
	m := NewManager(1, newTestLogger())

	m.Register("alice", "wf-1", 2)
	m.Register("alice", "wf-1", 2)

	// One terminal per real job must fully drain the aggregate.
	m.OnJobTerminal("alice")
	m.OnJobTerminal("alice")
	if m.IsActive("alice") {
		t.Fatalf("duplicate registration inflated the job count")
	}
}

func TestQueuedTenantFullyCancelledLeavesQueue(t *testing.T) {
	m := NewManager(1, newTestLogger())

	m.Register("alice", "wf-1", 1)
	m.Register("bob", "wf-2", 1)
	m.Register("carol", "wf-3", 1)

	// All of bob's queued work is cancelled before admission.
	m.OnJobTerminal("bob")
	if snap := m.Snapshot(); snap.QueuedUsers != 1 {
		t.Fatalf("queued = %d, want 1 (carol)", snap.QueuedUsers)
	}

	// Releasing alice must skip bob and admit carol.
	m.OnJobTerminal("alice")
	if m.IsActive("bob") {
		t.Fatalf("bob admitted after his work was cancelled")
	}
	if !m.IsActive("carol") {
		t.Fatalf("carol not admitted")
	}
}

func TestActiveUsersOrderedByAdmission(t *testing.T) {
	m := NewManager(3, newTestLogger())

	m.Register("a", "wf-a", 1)
	m.Register("b", "wf-b", 1)
	m.Register("c", "wf-c", 1)

	users := m.ActiveUsers()
	if len(users) != 3 {
		t.Fatalf("len(users) = %d, want 3", len(users))
	}
	for i := 1; i < len(users); i++ {
		if users[i].AdmittedAt.Before(users[i-1].AdmittedAt) {
			t.Fatalf("users not sorted by admission time: %v", users)
		}
	}
}

func TestOnJobTerminalUnknownUser(t *testing.T) {
	m := NewManager(1, newTestLogger())
	m.OnJobTerminal("ghost")

	if snap := m.Snapshot(); snap.ActiveUsers != 0 {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
}

func TestReAdmittedTenantStartsFresh(t *testing.T) {
	m := NewManager(1, newTestLogger())

	m.Register("alice", "wf-1", 1)
	m.OnJobTerminal("alice")

	// Resubmitting the same workflow id after release must count again.
	m.Register("alice", "wf-1", 1)
	if !m.IsActive("alice") {
		t.Fatalf("alice not re-admitted")
	}
	m.OnJobTerminal("alice")
	if m.IsActive("alice") {
		t.Fatalf("alice still active after drain")
	}
}
