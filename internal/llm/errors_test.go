package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	t.Run("with type field", func(t *testing.T) {
		err := &APIError{Provider: "openai", StatusCode: 429, Message: "rate limit exceeded", Type: "rate_limit_error"}
		assert.Equal(t, "openai: API error (status 429, type rate_limit_error): rate limit exceeded", err.Error())
	})

	t.Run("without type field", func(t *testing.T) {
		err := &APIError{Provider: "anthropic", StatusCode: 500, Message: "internal server error"}
		assert.Equal(t, "anthropic: API error (status 500): internal server error", err.Error())
	})

	t.Run("code is kept out of the message", func(t *testing.T) {
		err := &APIError{Provider: "openai", StatusCode: 401, Message: "invalid api key", Code: "invalid_api_key"}
		assert.Equal(t, "openai: API error (status 401): invalid api key", err.Error())
	})
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rate limited", err: &APIError{StatusCode: 429}, want: true},
		{name: "server error", err: &APIError{StatusCode: 503}, want: true},
		{name: "network error", err: &APIError{StatusCode: 0}, want: true},
		{name: "wrapped server error", err: fmt.Errorf("call: %w", &APIError{StatusCode: 502}), want: true},
		{name: "bad request", err: &APIError{StatusCode: 400}, want: false},
		{name: "unauthorized", err: &APIError{StatusCode: 401}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransientError(tc.err))
		})
	}
}
