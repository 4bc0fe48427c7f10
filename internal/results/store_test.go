package results

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/me/slideflow/pkg/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := New(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutGetRoundtrip(t *testing.T) {
	st := testStore(t)

	payload := []byte(`{"tiles_processed":100}`)
	if err := st.Put("job-1", "application/json", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	contentType, data, err := st.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("payload = %q, want %q", data, payload)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	st := testStore(t)

	if err := st.Put("job-1", "text/plain", []byte("first")); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := st.Put("job-1", "application/json", []byte("second")); err != nil {
		t.Fatalf("put second: %v", err)
	}

	contentType, data, err := st.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if contentType != "application/json" || string(data) != "second" {
		t.Errorf("got %q %q, want replacement", contentType, data)
	}
}

func TestPutDefaultsContentType(t *testing.T) {
	st := testStore(t)

	if err := st.Put("job-1", "", []byte{0x1, 0x2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	contentType, _, err := st.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("content type = %q, want application/octet-stream", contentType)
	}
}

func TestGetMissing(t *testing.T) {
	st := testStore(t)

	_, _, err := st.Get("nope")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != model.ErrNotFound {
		t.Errorf("code = %s, want NOT_FOUND", apiErr.Code)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
