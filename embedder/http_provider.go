package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/ratelimit"
)

// HTTPProviderConfig configures the embeddings API client
type HTTPProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Logger  *zap.SugaredLogger
}

// HTTPProvider talks to an OpenAI-compatible /embeddings endpoint.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewHTTPProvider creates an embeddings API client.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Embed implements Provider against an OpenAI-compatible embeddings API.
// Token-limit rejections surface as a Permanent TokenLimitError so the
// batcher narrows the batch instead of retrying the same request.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "embedding request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedding response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyError(resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding response")
	}
	if parsed.Error != nil {
		return nil, errors.Newf("embedding provider error: %s", parsed.Error.Message)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errors.Newf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	p.log.Debugw("Embedded batch",
		logger.FieldBatchSize, len(texts),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return vectors, nil
}

// classifyError maps a non-2xx response to the retry taxonomy. Providers
// report context-window overflows as 400s with a token-themed message; those
// become TokenLimitError so the batcher can shrink the unit of work.
func (p *HTTPProvider) classifyError(status int, body []byte) error {
	var parsed embeddingResponse
	message := ""
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}

	if status == http.StatusBadRequest && isTokenLimitMessage(message) {
		return ratelimit.Permanent(&TokenLimitError{Message: message})
	}
	return ratelimit.NewHTTPError(status, message)
}

func isTokenLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "token") &&
		(strings.Contains(lower, "limit") || strings.Contains(lower, "maximum") || strings.Contains(lower, "context length"))
}
