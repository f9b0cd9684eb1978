package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// OllamaConfig configures the live backend.
type OllamaConfig struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	MaxInputChars int
	Temperature   float64
	MaxTokens     int
}

// OllamaClient talks to an Ollama-compatible generate API.
type OllamaClient struct {
	cfg        OllamaConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ news.Classifier = (*OllamaClient)(nil)

// NewOllamaClient builds a client, applying defaults to unset fields.
func NewOllamaClient(cfg OllamaConfig, logger *zap.Logger) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &OllamaClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Model reports the configured model name.
func (c *OllamaClient) Model() string {
	return c.cfg.Model
}

// Available probes the tags endpoint within the probe timeout.
func (c *OllamaClient) Available(ctx context.Context) bool {
	if c.cfg.Model == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("classifier probe failed", zap.String("base_url", c.cfg.BaseURL), zap.Error(err))
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Format  string          `json:"format"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// ClassifyAndSummarize sends the article to the generate endpoint and
// validates the structured reply.
func (c *OllamaClient) ClassifyAndSummarize(ctx context.Context, in news.ClassifyRequest) (news.Classification, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: buildPrompt(in, c.cfg.MaxInputChars),
		Format: "json",
		Stream: false,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			NumPredict:  c.cfg.MaxTokens,
		},
	})
	if err != nil {
		return news.Classification{}, fmt.Errorf("marshal generate request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return news.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return news.Classification{}, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		return news.Classification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return news.Classification{}, fmt.Errorf("%w: generate error %s: %s",
			ErrUnavailable, resp.Status, strings.TrimSpace(string(payload)))
	}

	var envelope generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return news.Classification{}, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		return news.Classification{}, fmt.Errorf("%w: decode envelope: %v", ErrInvalidResponse, err)
	}

	var out news.Classification
	if err := json.Unmarshal([]byte(envelope.Response), &out); err != nil {
		return news.Classification{}, fmt.Errorf("%w: decode analysis: %v", ErrInvalidResponse, err)
	}
	if err := Validate(&out, in.TopicSlugs); err != nil {
		return news.Classification{}, err
	}
	return out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
