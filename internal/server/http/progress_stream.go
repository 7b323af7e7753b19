package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

const (
	// sseHeartbeatInterval is how often an idle stream sends a comment line.
	sseHeartbeatInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// streamSession handles GET /sessions/{sessionID}/stream (SSE).
//
// The stream opens with a "snapshot" event carrying the current projection,
// then sends a "session" event for every projection update. Snapshots are
// complete, so a client that misses one loses nothing but intermediate state.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := observability.SessionIDFromContext(ctx)

	// Subscribe before reading the current state so no update falls between.
	updates, stop := s.deps.Sessions.Watch(sessionID)
	defer stop()

	current, err := s.deps.Sessions.Session(ctx, sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastSeq := current.LastSeq
	sendSSEEvent(w, flusher, "snapshot", current)

	deadlineTimer := time.NewTimer(s.streamMaxDuration)
	defer deadlineTimer.Stop()
	heartbeat := time.NewTicker(s.streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, "timeout", map[string]string{
				"session_id": sessionID,
				"message":    "stream max duration exceeded",
			})
			return

		case sess, open := <-updates:
			if !open {
				return
			}
			if sess.LastSeq <= lastSeq {
				continue
			}
			lastSeq = sess.LastSeq
			sendSSEEvent(w, flusher, "session", sess)

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if sess, ok := v.(projection.Session); ok {
		fmt.Fprintf(w, "id: %d\n", sess.LastSeq)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}
