package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/ratelimit"
)

func fakeCompletionServer(t *testing.T, reply string) (*httptest.Server, *[]chatCompletionRequest) {
	t.Helper()
	var seen []chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		resp := map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
			"usage": map[string]int{"total_tokens": 42},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	limiter := ratelimit.NewLimiterWithClock(
		ratelimit.DefaultConfig(1000), nil, nil,
		func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	)
	return NewClient(Config{APIKey: "test-key", BaseURL: baseURL}, limiter, nil)
}

func TestSummarizeReturnsSummary(t *testing.T) {
	srv, seen := fakeCompletionServer(t, "Fixes a nil deref in parser.Reset when input is empty.")
	client := newTestClient(t, srv.URL)

	doc := document.Document{
		ID:      "issue-12",
		Content: strings.Repeat("panic: runtime error in parser.Reset ", 5),
	}

	summary, err := client.Summarize(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Contains(t, summary.Content, "parser.Reset")
	assert.Equal(t, 42, summary.Tokens)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "parser.Reset")
}

func TestSummarizeQualityGate(t *testing.T) {
	t.Run("skip marker yields nil summary without error", func(t *testing.T) {
		srv, _ := fakeCompletionServer(t, skipMarker)
		client := newTestClient(t, srv.URL)

		summary, err := client.Summarize(context.Background(), document.Document{
			ID:      "comment-1",
			Content: strings.Repeat("thanks, this worked for me as well! ", 3),
		})
		require.NoError(t, err)
		assert.Nil(t, summary)
	})

	t.Run("short content is pre-filtered without a request", func(t *testing.T) {
		srv, seen := fakeCompletionServer(t, "should never be called")
		client := newTestClient(t, srv.URL)

		summary, err := client.Summarize(context.Background(), document.Document{
			ID:      "comment-2",
			Content: "+1",
		})
		require.NoError(t, err)
		assert.Nil(t, summary)
		assert.Empty(t, *seen)
	})
}

func TestSummarizeAuthErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Summarize(context.Background(), document.Document{
		ID:      "issue-1",
		Content: strings.Repeat("some well-formed technical content here ", 3),
	})
	require.Error(t, err)

	var httpErr *ratelimit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, 1, calls, "auth failures must not be retried")
}

func TestSummarizeRequiresAPIKey(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(60), nil)
	client := NewClient(Config{}, limiter, nil)

	_, err := client.Summarize(context.Background(), document.Document{
		ID:      "issue-1",
		Content: strings.Repeat("content ", 20),
	})
	assert.Error(t, err)
}
