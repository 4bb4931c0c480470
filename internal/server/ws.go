package server

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/websocket"
)

// feedPollInterval is how often the job record is re-read for the
// websocket feed.
const feedPollInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-host tooling, not a browser surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleJobFeed streams job state changes over a websocket: one JSON
// jobView per change, closing after the job reaches a terminal status.
func (s *Server) handleJobFeed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Reject unknown jobs before upgrading so the client gets a proper
	// HTTP status instead of an immediate close.
	job, err := s.svc.GetJobStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	last := newJobView(*job)
	if err := conn.WriteJSON(last); err != nil {
		return
	}

	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()

	for {
		if last.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status)),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := s.svc.GetJobStatus(ctx, id)
		if err != nil {
			s.logger.Warn("job feed read failed", "job", id, "error", err)
			return
		}
		view := newJobView(*job)
		if reflect.DeepEqual(view, last) {
			continue
		}
		last = view
		if err := conn.WriteJSON(view); err != nil {
			return
		}
	}
}
