package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestUserIDContext(t *testing.T) {
	t.Run("stores and retrieves user ID", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "user-7")
		assert.Equal(t, "user-7", UserIDFromContext(ctx))
	})

	t.Run("ignores values of another type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), userIDKey, 42)
		assert.Equal(t, "", UserIDFromContext(ctx))
	})
}

func TestSessionAndCorrelationContext(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithCorrelationID(ctx, "corr-1")

	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
}

func TestTraceSpanContext(t *testing.T) {
	ctx := WithTraceSpan(context.Background(), "trace-abc", "span-def")

	traceID, spanID := TraceSpanFromContext(ctx)
	assert.Equal(t, "trace-abc", traceID)
	assert.Equal(t, "span-def", spanID)
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithUserID(context.Background(), "first")
	ctx = WithUserID(ctx, "second")

	assert.Equal(t, "second", UserIDFromContext(ctx))
}
