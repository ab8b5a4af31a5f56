package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/queue"
	"github.com/corvid-labs/granary/ratelimit"
)

const defaultGitHubAPIURL = "https://api.github.com"

// GitHubConfig configures a GitHub issue collector.
type GitHubConfig struct {
	Owner   string
	Repo    string
	Token   string // optional; unauthenticated requests have low rate limits
	BaseURL string // override for tests
	PerPage int
}

// GitHubCollector lists issues from a repository.
type GitHubCollector struct {
	cfg        GitHubConfig
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewGitHubCollector creates a GitHub issue collector.
func NewGitHubCollector(cfg GitHubConfig, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *GitHubCollector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubAPIURL
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GitHubCollector{
		cfg:        cfg,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (c *GitHubCollector) Source() string {
	return fmt.Sprintf("github:%s/%s", c.cfg.Owner, c.cfg.Repo)
}

type githubIssue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// Collect lists open issues, using ETag/Last-Modified validators from the
// previous pass. A 304 reply yields NotModified with zero items.
func (c *GitHubCollector) Collect(ctx context.Context, prev ConditionalState) (*Result, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues?state=open&per_page=%d",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Owner, c.cfg.Repo, c.cfg.PerPage)

	resp, err := ratelimit.Do(ctx, c.limiter, func(ctx context.Context) (*fetchResult, error) {
		return c.fetch(ctx, url, prev)
	})
	if err != nil {
		return nil, err
	}
	if resp.notModified {
		c.log.Debugw("Source not modified since last collection",
			logger.FieldSource, c.Source(),
		)
		return &Result{NotModified: true, State: prev}, nil
	}

	var issues []githubIssue
	if err := json.Unmarshal(resp.body, &issues); err != nil {
		return nil, errors.Wrap(err, "failed to decode issue listing")
	}

	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue // the issues endpoint includes PRs
		}
		data, err := json.Marshal(ItemData{
			Title: issue.Title,
			Body:  issue.Body,
			URL:   issue.HTMLURL,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode issue %d", issue.Number)
		}
		items = append(items, Item{
			Type: queue.ItemTypeGitHubIssue,
			ID:   fmt.Sprintf("%s/%s#%d", c.cfg.Owner, c.cfg.Repo, issue.Number),
			Data: data,
		})
	}

	c.log.Infow("Collected issues",
		logger.FieldSource, c.Source(),
		logger.FieldCount, len(items),
	)
	return &Result{Items: items, State: resp.state}, nil
}

type fetchResult struct {
	body        []byte
	state       ConditionalState
	notModified bool
}

func (c *GitHubCollector) fetch(ctx context.Context, url string, prev ConditionalState) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	setConditionalHeaders(req, prev)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch issues")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &fetchResult{notModified: true, state: prev}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ratelimit.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &fetchResult{
		body:  body,
		state: conditionalStateFrom(resp),
	}, nil
}

func setConditionalHeaders(req *http.Request, prev ConditionalState) {
	if prev.ETag != "" {
		req.Header.Set("If-None-Match", prev.ETag)
	}
	if prev.LastModified != "" {
		req.Header.Set("If-Modified-Since", prev.LastModified)
	}
}

func conditionalStateFrom(resp *http.Response) ConditionalState {
	return ConditionalState{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}
