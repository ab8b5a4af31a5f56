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

// ForumConfig configures a Discourse-style forum collector.
type ForumConfig struct {
	BaseURL string // e.g. "https://forum.example.com"
	APIKey  string // optional
}

// ForumCollector lists recent topics from a Discourse-style forum.
type ForumCollector struct {
	cfg        ForumConfig
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewForumCollector creates a forum topic collector.
func NewForumCollector(cfg ForumConfig, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *ForumCollector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ForumCollector{
		cfg:        cfg,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (c *ForumCollector) Source() string {
	return "forum:" + strings.TrimPrefix(strings.TrimPrefix(c.cfg.BaseURL, "https://"), "http://")
}

type forumTopicList struct {
	TopicList struct {
		Topics []struct {
			ID      int    `json:"id"`
			Title   string `json:"title"`
			Excerpt string `json:"excerpt"`
			Slug    string `json:"slug"`
		} `json:"topics"`
	} `json:"topic_list"`
}

// Collect lists the latest topics, honoring conditional validators.
func (c *ForumCollector) Collect(ctx context.Context, prev ConditionalState) (*Result, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/latest.json"

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

	var listing forumTopicList
	if err := json.Unmarshal(resp.body, &listing); err != nil {
		return nil, errors.Wrap(err, "failed to decode topic listing")
	}

	items := make([]Item, 0, len(listing.TopicList.Topics))
	for _, topic := range listing.TopicList.Topics {
		data, err := json.Marshal(ItemData{
			Title: topic.Title,
			Body:  topic.Excerpt,
			URL:   fmt.Sprintf("%s/t/%s/%d", strings.TrimRight(c.cfg.BaseURL, "/"), topic.Slug, topic.ID),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode topic %d", topic.ID)
		}
		items = append(items, Item{
			Type: queue.ItemTypeForumPost,
			ID:   fmt.Sprintf("topic-%d", topic.ID),
			Data: data,
		})
	}

	c.log.Infow("Collected forum topics",
		logger.FieldSource, c.Source(),
		logger.FieldCount, len(items),
	)
	return &Result{Items: items, State: resp.state}, nil
}

func (c *ForumCollector) fetch(ctx context.Context, url string, prev ConditionalState) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Api-Key", c.cfg.APIKey)
	}
	setConditionalHeaders(req, prev)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch topics")
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
