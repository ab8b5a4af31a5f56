package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/document"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/ratelimit"
)

const (
	// DefaultModel is the fallback model when none is configured.
	DefaultModel = "openai/gpt-4o-mini"

	defaultBaseURL = "https://openrouter.ai/api/v1"

	// skipMarker is what the model answers when content has no substance
	// worth indexing. It doubles as the quality gate signal.
	skipMarker = "NOT_SUBSTANTIVE"

	// minContentLength pre-filters content too short to summarize at all.
	minContentLength = 40
)

const systemPrompt = `You summarize technical documents for a search index.
Produce a dense, factual summary that preserves error messages, API names,
version numbers and code identifiers verbatim. Do not add commentary.
If the document contains no substantive technical content (greetings,
+1 comments, empty templates), reply with exactly ` + skipMarker + `.`

// Config holds OpenRouter client configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// Client summarizes documents through an OpenRouter-compatible
// chat-completions endpoint. All requests go through the shared limiter.
type Client struct {
	cfg        Config
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewClient creates a summarizer client.
func NewClient(cfg Config, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:        cfg,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Summarize runs the document through the model. It returns (nil, nil) when
// the content fails the quality gate, at-most-once per limiter pacing.
func (c *Client) Summarize(ctx context.Context, doc document.Document) (*Summary, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("summarizer API key not configured")
	}

	trimmed := strings.TrimSpace(doc.Content)
	if len(trimmed) < minContentLength {
		c.log.Debugw("Document below minimum content length, skipping",
			logger.FieldItemID, doc.ID,
			logger.FieldBytes, len(trimmed),
		)
		return nil, nil
	}

	resp, err := ratelimit.Do(ctx, c.limiter, func(ctx context.Context) (*chatCompletionResponse, error) {
		return c.createChatCompletion(ctx, chatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: trimmed},
			},
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.Newf("summarizer returned no choices for %s", doc.ID)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" || strings.EqualFold(content, skipMarker) {
		c.log.Infow("Document rejected by quality gate",
			logger.FieldItemID, doc.ID,
		)
		return nil, nil
	}

	return &Summary{
		Content: content,
		Model:   resp.Model,
		Tokens:  resp.Usage.TotalTokens,
	}, nil
}

func (c *Client) createChatCompletion(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Title", "granary")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ratelimit.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}
