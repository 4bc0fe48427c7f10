package model

import (
	"strings"
	"testing"
)

func TestAPIErrorMessage(t *testing.T) {
	err := NewNotFoundError("workflow", "wf-1")
	if err.Code != ErrNotFound {
		t.Errorf("code = %s, want %s", err.Code, ErrNotFound)
	}
	if !strings.Contains(err.Error(), "wf-1") {
		t.Errorf("message %q missing id", err.Error())
	}
}

func TestNewDAGErrorCarriesKindAndDetails(t *testing.T) {
	err := NewDAGError(
		FieldError{Path: "dag.branches.b1[0].type", Message: "unknown job type"},
	)
	if err.Code != ErrValidation {
		t.Errorf("code = %s, want %s", err.Code, ErrValidation)
	}
	if err.Kind != KindInvalidDAG {
		t.Errorf("kind = %s, want %s", err.Kind, KindInvalidDAG)
	}
	if len(err.Details) != 1 || err.Details[0].Path != "dag.branches.b1[0].type" {
		t.Errorf("details = %+v", err.Details)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{Entity: "job", ID: "j-1", From: "SUCCEEDED", To: "RUNNING"}
	msg := err.Error()
	for _, want := range []string{"job", "j-1", "SUCCEEDED", "RUNNING"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
