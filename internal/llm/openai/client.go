package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"meetmatch/internal/domain"
)

// Client is an OpenAI-compatible chat completions client implementing
// domain.ModelClient. It also speaks Azure OpenAI deployments.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	azure      bool
	apiVersion string
	maxTokens  int
	client     *http.Client
	maxRetries int
	limiter    *rate.Limiter
	baseDelay  time.Duration
}

// Config configures the chat client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Azure      bool
	APIVersion string
	MaxTokens  int
	MaxRetries int
	// RequestsPerSecond throttles outgoing attempts; 0 disables throttling.
	RequestsPerSecond float64
	// HTTPClient overrides the default transport. Timeouts come from the
	// per-call context, so the default client has none.
	HTTPClient *http.Client
}

// NewClient creates a new chat client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		maxTokens:  cfg.MaxTokens,
		client:     hc,
		maxRetries: cfg.MaxRetries,
		limiter:    limiter,
		baseDelay:  500 * time.Millisecond,
	}, nil
}

// Name returns the identifier of this backend.
func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Complete sends prompt as a single user message and returns the reply text.
// 429 and 5xx responses are retried with backoff, honoring Retry-After.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body := chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if !c.azure {
		body.Model = c.model
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", domain.NewServiceError(domain.ServiceMalformed, fmt.Errorf("marshal request: %w", err))
	}

	var lastErr *domain.ServiceError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", contextError(ctx, err)
			}
		}
		text, retryAfter, svcErr := c.do(ctx, data)
		if svcErr == nil {
			return text, nil
		}
		lastErr = svcErr
		if !retryable(svcErr) || ctx.Err() != nil || attempt == c.maxRetries {
			break
		}
		delay := retryAfter
		if delay == 0 {
			delay = retryDelay(c.baseDelay, attempt)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", contextError(ctx, ctx.Err())
		}
	}
	return "", lastErr
}

func (c *Client) do(ctx context.Context, data []byte) (string, time.Duration, *domain.ServiceError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(data))
	if err != nil {
		return "", 0, domain.NewServiceError(domain.ServiceTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.azure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, contextError(ctx, err)
		}
		return "", 0, domain.NewServiceError(domain.ServiceTransport, err)
	}
	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, contextError(ctx, err)
		}
		return "", 0, domain.NewServiceError(domain.ServiceTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", parseRetryAfter(resp.Header.Get("Retry-After")),
			domain.NewServiceError(domain.ServiceRateLimited, fmt.Errorf("chat completions failed: %s", resp.Status))
	case resp.StatusCode >= 500:
		return "", parseRetryAfter(resp.Header.Get("Retry-After")),
			domain.NewServiceError(domain.ServiceUnavailable, fmt.Errorf("chat completions failed: %s", resp.Status))
	case resp.StatusCode >= 300:
		// client errors are not worth retrying
		return "", 0, domain.NewServiceError(domain.ServiceMalformed,
			fmt.Errorf("chat completions failed: %s: %s", resp.Status, snippet(payload)))
	}

	text, err := decodeContent(payload)
	if err != nil {
		return "", 0, domain.NewServiceError(domain.ServiceMalformed, err)
	}
	return text, 0, nil
}

func (c *Client) endpoint() string {
	if c.azure {
		u := fmt.Sprintf("%s/openai/deployments/%s/chat/completions", c.baseURL, url.PathEscape(c.model))
		if c.apiVersion != "" {
			u += "?api-version=" + url.QueryEscape(c.apiVersion)
		}
		return u
	}
	return c.baseURL + "/chat/completions"
}

// decodeContent reads the reply text. The OpenAI shape is tried first,
// then the Ollama-native chat and generate shapes.
func decodeContent(payload []byte) (string, error) {
	var openaiOut struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Choices) > 0 {
		choice := openaiOut.Choices[0]
		if strings.TrimSpace(choice.Message.Content) != "" {
			return choice.Message.Content, nil
		}
		return "", fmt.Errorf("empty response (finish_reason=%s, refusal=%q)", choice.FinishReason, choice.Message.Refusal)
	}
	var ollamaOut struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil {
		if ollamaOut.Message.Content != "" {
			return ollamaOut.Message.Content, nil
		}
		if ollamaOut.Response != "" {
			return ollamaOut.Response, nil
		}
	}
	return "", errors.New("no completion returned")
}

func retryable(err *domain.ServiceError) bool {
	switch err.Kind {
	case domain.ServiceRateLimited, domain.ServiceUnavailable, domain.ServiceTransport:
		return true
	}
	return false
}

func contextError(ctx context.Context, err error) *domain.ServiceError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewServiceError(domain.ServiceTimeout, err)
	}
	return domain.NewServiceError(domain.ServiceTransport, err)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 20s
	d := base << attempt
	if d > 20*time.Second {
		d = 20 * time.Second
	}
	return d
}
