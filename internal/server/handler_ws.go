package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/me/slideflow/pkg/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const pingInterval = 30 * time.Second

// handleWorkflowSocket bridges the workflow's event topic to a WebSocket
// client: current snapshot first, then live events. GET /ws/workflows/{id}
func (s *Server) handleWorkflowSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.workflows.Get(id)
	if err != nil {
		respondAPIError(w, RequestIDFromContext(r.Context()), err)
		return
	}

	// Subscribe before snapshotting so no event between the two is lost.
	sub := s.bus.Subscribe(model.TopicWorkflow(id))
	defer s.bus.Close(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.NewWorkflowProgressEvent(wf)); err != nil {
		return
	}
	s.pump(conn, sub.Events(), "workflow", id)
}

// handleJobSocket bridges a single job's event topic to a WebSocket
// client, snapshot first. GET /ws/jobs/{id}
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(id)
	if err != nil {
		respondAPIError(w, RequestIDFromContext(r.Context()), err)
		return
	}

	sub := s.bus.Subscribe(model.TopicJob(id))
	defer s.bus.Close(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.NewJobProgressEvent(job)); err != nil {
		return
	}
	s.pump(conn, sub.Events(), "job", id)
}

// pump relays bus events to the socket until the subscription or the
// client goes away. A slow client that overflows its subscription queue is
// dropped rather than allowed to stall publishers.
func (s *Server) pump(conn *websocket.Conn, events <-chan any, kind, id string) {
	// Drain client frames so close handshakes are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if overflow, isOverflow := event.(model.OverflowEvent); isOverflow {
				s.logger.Warn("dropping slow websocket subscriber",
					"kind", kind, "id", id, "dropped", overflow.Dropped)
				conn.WriteJSON(overflow)
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
