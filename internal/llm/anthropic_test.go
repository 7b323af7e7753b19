package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc, maxRetries int) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL}, 0.2, 5*time.Second, maxRetries)
	p.retryDelay = time.Millisecond
	return p
}

func writeMessagesResponse(t *testing.T, w http.ResponseWriter, blocks ...contentBlock) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(messagesResponse{
		ID:         "msg_1",
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      "claude-test",
		StopReason: "end_turn",
		Usage:      anthropicUsage{InputTokens: 100, OutputTokens: 15},
	}))
}

func TestAnthropicProvider_Generate(t *testing.T) {
	direction := domain.Direction{Topic: "soil microbiome", Keywords: []string{"metagenomics"}}

	t.Run("sends messages request and parses the first text block", func(t *testing.T) {
		var received messagesRequest
		var headers http.Header
		p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			headers = r.Header.Clone()
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			writeMessagesResponse(t, w,
				contentBlock{Type: "tool_use"},
				contentBlock{Type: "text", Text: `{"query": "rhizosphere metagenomics", "reasoning": "root zone"}`},
			)
		}, 0)

		q, err := p.Generate(context.Background(), direction, nil, 1)
		require.NoError(t, err)

		assert.Equal(t, "rhizosphere metagenomics", q.Query)
		assert.Equal(t, "root zone", q.Reasoning)
		assert.Equal(t, "test-key", headers.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, headers.Get("anthropic-version"))
		assert.Equal(t, "claude-test", received.Model)
		assert.Equal(t, defaultAnthropicMaxTokens, received.MaxTokens)
		assert.NotEmpty(t, received.System)
		require.Len(t, received.Messages, 1)
		assert.Contains(t, received.Messages[0].Content, "soil microbiome")
	})

	t.Run("retries overloaded responses", func(t *testing.T) {
		var calls atomic.Int32
		p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(529)
				_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
				return
			}
			writeMessagesResponse(t, w, contentBlock{Type: "text", Text: `{"query": "soil carbon"}`})
		}, 2)

		q, err := p.Generate(context.Background(), direction, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, "soil carbon", q.Query)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("api error details", func(t *testing.T) {
		p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`))
		}, 3)

		_, err := p.Generate(context.Background(), direction, nil, 1)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "anthropic", apiErr.Provider)
		assert.Equal(t, "invalid_request_error", apiErr.Type)
		assert.Equal(t, "max_tokens too large", apiErr.Message)
	})

	t.Run("no text blocks", func(t *testing.T) {
		p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			writeMessagesResponse(t, w)
		}, 0)

		_, err := p.Generate(context.Background(), direction, nil, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no text content blocks")
	})

	t.Run("exhausted retries", func(t *testing.T) {
		p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, 1)

		_, err := p.Generate(context.Background(), direction, nil, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all 1 retries exhausted")
	})
}
