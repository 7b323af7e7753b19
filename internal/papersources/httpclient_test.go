package papersources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/observability"
)

func fastClient(maxRetries int) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		Source:     "test",
		RateLimit:  1000,
		BurstSize:  100,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
}

func get(t *testing.T, c *HTTPClient, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return c.Do(req, "search")
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c := NewHTTPClient(HTTPClientConfig{})
		assert.Equal(t, 30*time.Second, c.client.Timeout)
		assert.Equal(t, 3, c.config.MaxRetries)
		assert.Equal(t, time.Second, c.config.RetryDelay)
		assert.Equal(t, "Helixir-SessionWorkflow/1.0", c.config.UserAgent)
	})

	t.Run("negative retries disables retrying", func(t *testing.T) {
		c := NewHTTPClient(HTTPClientConfig{MaxRetries: -1})
		assert.Equal(t, 0, c.config.MaxRetries)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets user agent and api key", func(t *testing.T) {
		var ua, key string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua = r.Header.Get("User-Agent")
			key = r.Header.Get("x-api-key")
		}))
		defer server.Close()

		c := NewHTTPClient(HTTPClientConfig{UserAgent: "agent/1", APIKey: "secret", APIKeyHeader: "x-api-key"})
		resp, err := get(t, c, server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "agent/1", ua)
		assert.Equal(t, "secret", key)
	})

	t.Run("retries 429 and 5xx then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			case 2:
				w.WriteHeader(http.StatusBadGateway)
			default:
				_, _ = w.Write([]byte("ok"))
			}
		}))
		defer server.Close()

		resp, err := get(t, fastClient(3), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		resp, err := get(t, fastClient(2), server.URL)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Contains(t, err.Error(), "max retries exhausted after 3 attempts, last status: 503")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are returned as-is", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		resp, err := get(t, fastClient(3), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("replays the body on retry", func(t *testing.T) {
		var calls atomic.Int32
		var lastBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			lastBody = string(body)
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}))
		defer server.Close()

		const payload = `{"ids":["doi:10.1/x"]}`
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(payload))
		require.NoError(t, err)

		resp, err := fastClient(2).Do(req, "batch")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, payload, lastBody)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewHTTPClient(HTTPClientConfig{RateLimit: 1000, BurstSize: 10, MaxRetries: 5, RetryDelay: time.Hour})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = c.Do(req, "search")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("records request and rate limit metrics", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
			}
		}))
		defer server.Close()

		m := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
		c := NewHTTPClient(HTTPClientConfig{Source: "openalex", RateLimit: 1000, BurstSize: 10, RetryDelay: time.Millisecond, Metrics: m})

		resp, err := get(t, c, server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, float64(2), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("openalex", "search")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("openalex")))
	})
}

func TestHTTPClient_retryDelay(t *testing.T) {
	c := NewHTTPClient(HTTPClientConfig{RetryDelay: 500 * time.Millisecond})
	withHeader := func(v string) *http.Response {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &http.Response{Header: h}
	}

	assert.Equal(t, 500*time.Millisecond, c.retryDelay(withHeader("")))
	assert.Equal(t, 5*time.Second, c.retryDelay(withHeader("5")))
	assert.Equal(t, 500*time.Millisecond, c.retryDelay(withHeader("0")))
	assert.Equal(t, 500*time.Millisecond, c.retryDelay(withHeader("soon")))
	assert.Equal(t, 500*time.Millisecond, c.retryDelay(withHeader(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))))

	future := c.retryDelay(withHeader(time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)))
	assert.Greater(t, future, 8*time.Second)
	assert.LessOrEqual(t, future, 10*time.Second)
}

func TestShouldRetry(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusNotFound:            false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusGatewayTimeout:      true,
	} {
		assert.Equal(t, want, shouldRetry(status), http.StatusText(status))
	}
}
