package llm_test

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
	"golang.org/x/time/rate"

	"github.com/veronica-labs/veronica/pkg/llm"
)

func completionsServer(t *testing.T, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "small-model", req["model"])

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGenerateRoundTrip(t *testing.T) {
	var calls atomic.Int64
	srv := completionsServer(t, "forty-two", &calls)
	defer srv.Close()

	c := llm.NewHTTPClient(srv.URL, "key", "small-model")
	out, err := c.Generate(context.Background(), "the answer?", map[string]any{"system": "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGenerateSurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := llm.NewHTTPClient(srv.URL, "", "small-model")
	_, err := c.Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := llm.NewHTTPClient(srv.URL, "", "small-model")
	_, err := c.Generate(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	var calls atomic.Int64
	srv := completionsServer(t, "ok", &calls)
	defer srv.Close()

	c := llm.NewHTTPClient(srv.URL, "", "small-model",
		llm.WithRateLimit(rate.Every(50*time.Millisecond), 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), "x", nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"third call waits out two refill intervals")
}

func TestRateLimiterHonorsContext(t *testing.T) {
	var calls atomic.Int64
	srv := completionsServer(t, "ok", &calls)
	defer srv.Close()

	c := llm.NewHTTPClient(srv.URL, "", "small-model",
		llm.WithRateLimit(rate.Every(time.Hour), 1))

	_, err := c.Generate(context.Background(), "x", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, "x", nil)
	assert.Error(t, err, "second call cannot acquire a token in time")
	assert.Equal(t, int64(1), calls.Load())
}

func TestGeneratorFunc(t *testing.T) {
	g := llm.GeneratorFunc(func(_ context.Context, prompt string, _ map[string]any) (string, error) {
		return "echo:" + prompt, nil
	})
	out, err := g.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}
