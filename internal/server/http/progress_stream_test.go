package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

type sseMessage struct {
	id        string
	eventType string
	data      string
}

// parseSSEEvents parses an SSE body into events, skipping comments.
func parseSSEEvents(t *testing.T, body string) []sseMessage {
	t.Helper()
	var events []sseMessage
	var current sseMessage
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.eventType != "" {
				events = append(events, current)
			}
			current = sseMessage{}
		case strings.HasPrefix(line, "id: "):
			current.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

// readSSEEvent reads lines until one complete event has arrived.
func readSSEEvent(t *testing.T, r *bufio.Reader) sseMessage {
	t.Helper()
	var msg sseMessage
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && msg.eventType != "":
			return msg
		case strings.HasPrefix(line, "id: "):
			msg.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			msg.eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			msg.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamSession_LiveUpdates(t *testing.T) {
	f := newTestFixture(t)
	f.appendEvent(t, "s-1", domain.SessionRenamedPayload{Title: "Before"})

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sessions/s-1/stream", nil)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)

	snapshot := readSSEEvent(t, reader)
	assert.Equal(t, "snapshot", snapshot.eventType)
	assert.Equal(t, "1", snapshot.id)
	var sess projection.Session
	require.NoError(t, json.Unmarshal([]byte(snapshot.data), &sess))
	assert.Equal(t, "Before", sess.Title)

	f.appendEvent(t, "s-1", domain.SessionRenamedPayload{Title: "After"})

	update := readSSEEvent(t, reader)
	assert.Equal(t, "session", update.eventType)
	assert.Equal(t, "2", update.id)
	require.NoError(t, json.Unmarshal([]byte(update.data), &sess))
	assert.Equal(t, "After", sess.Title)
	assert.Equal(t, int64(2), sess.LastSeq)
}

func TestStreamSession_MaxDuration(t *testing.T) {
	f := newTestFixture(t)
	f.appendEvent(t, "s-1", domain.SessionRenamedPayload{Title: "t"})
	f.server.streamMaxDuration = 50 * time.Millisecond
	f.server.streamHeartbeat = 10 * time.Millisecond

	rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/stream", nil))

	events := parseSSEEvents(t, rr.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "snapshot", events[0].eventType)
	assert.Equal(t, "timeout", events[1].eventType)
	assert.Contains(t, rr.Body.String(), ": heartbeat")
}

func TestStreamSession_UnknownSession(t *testing.T) {
	f := newTestFixture(t)

	rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/ghost/stream", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}
