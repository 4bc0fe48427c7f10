package server

import (
	"net/http"
	"time"

	"github.com/me/slideflow/pkg/model"
)

// handleHealth reports liveness. GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleStatus reports scheduler and tenant capacity usage. GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, model.StatusSnapshot{
		Scheduler:     s.scheduler.Snapshot(),
		TenantManager: s.tenants.Snapshot(),
	})
}
