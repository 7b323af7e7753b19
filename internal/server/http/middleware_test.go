package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/helixir/session-workflow-engine/internal/observability"
)

func TestSessionContextMiddleware_SetsSessionID(t *testing.T) {
	var captured string

	r := chi.NewRouter()
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Use(sessionContextMiddleware)
		r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
			captured = observability.SessionIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/lab-7/test", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "lab-7", captured)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var captured string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.CorrelationIDFromContext(r.Context())
	}))

	t.Run("propagates the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(headerCorrelationID, "corr-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "corr-123", captured)
		assert.Equal(t, "corr-123", rr.Header().Get(headerCorrelationID))
	})

	t.Run("generates one when absent", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, captured, 16)
		assert.Equal(t, captured, rr.Header().Get(headerCorrelationID))
	})
}

func TestUserIDMiddleware(t *testing.T) {
	var captured string
	handler := userIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerUserID, "  user-9 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-9", captured)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, captured)
}
