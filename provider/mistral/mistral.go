package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/friendlyhq/friendly/config"
	"github.com/friendlyhq/friendly/internal/cache"
	"github.com/friendlyhq/friendly/internal/helpers"
	"github.com/friendlyhq/friendly/provider"
)

const defaultBaseURL = "https://api.mistral.ai/v1"

var (
	providerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "friendly_provider_failures_total",
		Help: "Failed calls against the Mistral API by call type.",
	}, []string{"call"})
	completionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "friendly_completion_cache_hits_total",
		Help: "Completions served from the memo cache.",
	})
)

// Client talks to the Mistral API for embeddings and chat completions.
type Client struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	maxRetries      int
	httpClient      *http.Client
	memo            cache.Cache
	logger          *log.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// New creates a Mistral client. memo backs the completion cache; pass any
// cache.Cache implementation (memory, LRU or redis).
func New(cfg config.ProviderConfig, memo cache.Cache, logger *log.Logger) *Client {
	if memo == nil {
		memo = cache.NewMemory()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MISTRAL] ", log.LstdFlags)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		completionModel: cfg.CompletionModel,
		embeddingModel:  cfg.EmbeddingModel,
		maxRetries:      retries,
		httpClient:      &http.Client{Timeout: timeout},
		memo:            memo,
		logger:          logger,
	}
}

// Embed generates an embedding for text. A single attempt is made; callers
// treat any error as "embedding unavailable" rather than using a zero vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	err := c.postJSON(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: []string{text}}, &resp)
	if err != nil {
		providerFailures.WithLabelValues("embed").Inc()
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		providerFailures.WithLabelValues("embed").Inc()
		return nil, fmt.Errorf("embedding response contained no vector")
	}
	return resp.Data[0].Embedding, nil
}

// Complete returns a cleaned chat completion. Identical prompt text is served
// from the memo cache without a provider call. On failure the request is
// retried up to maxRetries times with no backoff; when every attempt fails the
// Unavailable sentinel is returned with a nil error.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if answer, ok := c.memo.Get(ctx, prompt); ok {
		completionCacheHits.Inc()
		return answer, nil
	}

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		raw, err := c.sendCompletion(ctx, prompt)
		if err != nil {
			lastErr = err
			c.logger.Printf("completion attempt %d/%d failed: %v", attempt+1, attempts, err)
			continue
		}
		answer := helpers.CleanResponse(raw)
		c.memo.Set(ctx, prompt, answer)
		return answer, nil
	}
	providerFailures.WithLabelValues("complete").Inc()
	c.logger.Printf("completion unavailable after %d attempts: %v", attempts, lastErr)
	return provider.Unavailable, nil
}

func (c *Client) sendCompletion(ctx context.Context, prompt string) (string, error) {
	req := completionRequest{
		Model:    c.completionModel,
		Messages: []message{{Role: "user", Content: prompt}},
	}
	var resp completionResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
