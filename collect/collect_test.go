package collect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/queue"
	"github.com/corvid-labs/granary/ratelimit"
)

func testLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiterWithClock(
		ratelimit.DefaultConfig(1000), nil, nil,
		func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	)
}

func TestGitHubCollect(t *testing.T) {
	issues := []map[string]any{
		{"number": 1, "title": "Crash on empty input", "body": "panic in Reset", "html_url": "https://github.com/corvid-labs/granary/issues/1"},
		{"number": 2, "title": "Add retry knob", "body": "expose RetryAttempts", "html_url": "https://github.com/corvid-labs/granary/issues/2"},
		{"number": 3, "title": "Fix typo", "body": "", "html_url": "https://github.com/corvid-labs/granary/pull/3",
			"pull_request": map[string]string{"url": "https://api.github.com/repos/x/pulls/3"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/corvid-labs/granary/issues", r.URL.Path)
		require.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))

		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2025 07:28:00 GMT")
		json.NewEncoder(w).Encode(issues)
	}))
	t.Cleanup(srv.Close)

	collector := NewGitHubCollector(GitHubConfig{
		Owner: "corvid-labs", Repo: "granary", Token: "gh-token", BaseURL: srv.URL,
	}, testLimiter(), nil)

	assert.Equal(t, "github:corvid-labs/granary", collector.Source())

	result, err := collector.Collect(context.Background(), ConditionalState{})
	require.NoError(t, err)
	assert.False(t, result.NotModified)
	require.Len(t, result.Items, 2, "pull requests are excluded")

	assert.Equal(t, queue.ItemTypeGitHubIssue, result.Items[0].Type)
	assert.Equal(t, "corvid-labs/granary#1", result.Items[0].ID)

	var data ItemData
	require.NoError(t, json.Unmarshal(result.Items[0].Data, &data))
	assert.Equal(t, "Crash on empty input", data.Title)
	assert.Equal(t, "panic in Reset", data.Body)

	assert.Equal(t, `"v2"`, result.State.ETag)
	assert.NotEmpty(t, result.State.LastModified)

	t.Run("second pass honors validators", func(t *testing.T) {
		again, err := collector.Collect(context.Background(), result.State)
		require.NoError(t, err)
		assert.True(t, again.NotModified)
		assert.Empty(t, again.Items)
		assert.Equal(t, result.State, again.State, "validators survive a 304")
	})
}

func TestGitHubCollectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	collector := NewGitHubCollector(GitHubConfig{
		Owner: "o", Repo: "r", BaseURL: srv.URL,
	}, testLimiter(), nil)

	_, err := collector.Collect(context.Background(), ConditionalState{})
	require.Error(t, err)

	var httpErr *ratelimit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
}

func TestForumCollect(t *testing.T) {
	listing := map[string]any{
		"topic_list": map[string]any{
			"topics": []map[string]any{
				{"id": 101, "title": "Install fails on arm64", "excerpt": "linker error", "slug": "install-fails"},
				{"id": 102, "title": "How to batch embeds", "excerpt": "token budget", "slug": "batch-embeds"},
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest.json", r.URL.Path)
		w.Header().Set("ETag", `"forum-v1"`)
		json.NewEncoder(w).Encode(listing)
	}))
	t.Cleanup(srv.Close)

	collector := NewForumCollector(ForumConfig{BaseURL: srv.URL}, testLimiter(), nil)

	result, err := collector.Collect(context.Background(), ConditionalState{})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	assert.Equal(t, queue.ItemTypeForumPost, result.Items[0].Type)
	assert.Equal(t, "topic-101", result.Items[0].ID)

	var data ItemData
	require.NoError(t, json.Unmarshal(result.Items[0].Data, &data))
	assert.Equal(t, "Install fails on arm64", data.Title)
	assert.Contains(t, data.URL, "/t/install-fails/101")

	assert.Equal(t, `"forum-v1"`, result.State.ETag)
}
