// Package llmprovider implements the Provider abstraction the agent
// orchestrator talks to: Complete for single-shot responses, Stream for
// token-by-token generation.
//
// The OpenAI and OpenRouter backends collapse into one ChatCompletions
// client since they differ only in base URL and API key source, both
// speaking the OpenAI chat-completions wire format. The HTTP client
// itself (rate limiter, retry/backoff on 429/5xx, redacted debug
// logging) follows the same pattern as internal/fred/client.go.
package llmprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider names recognized by New, mirroring get_provider()'s dispatch.
const (
	ProviderMock               = "mock"
	ProviderOpenAI             = "openai"
	ProviderOpenRouter         = "openrouter"
	ProviderLangChainOpenRoute = "langchain_openrouter"
)

// Config carries everything New needs to build a Provider, sourced from
// internal/config.
type Config struct {
	Provider       string
	APIKey         string
	OpenRouterKey  string
	Model          string
	BaseURL        string
	RequestTimeout time.Duration
	RatePerSec     float64
	Debug          bool
}

// Provider is the interface the agent orchestrator and brief generator
// consume. Complete is a single blocking call; Stream yields tokens
// incrementally on a channel, closed when generation finishes or ctx is
// canceled.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan string, error)
}

// New builds the Provider named by cfg.Provider, defaulting to Mock for
// unknown values — unknown settings must never break local runs.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderMock, "none", "dev":
		return Mock{}, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an API key", ProviderOpenAI)
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return newChatCompletions(cfg.APIKey, model, "https://api.openai.com/v1", cfg), nil
	case ProviderOpenRouter, ProviderLangChainOpenRoute:
		key := cfg.OpenRouterKey
		if key == "" {
			key = cfg.APIKey
		}
		if key == "" {
			return nil, fmt.Errorf("llm provider %q requires an API key", cfg.Provider)
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return newChatCompletions(key, model, baseURL, cfg), nil
	default:
		return Mock{}, nil
	}
}

// Mock returns a deterministic, offline-safe completion — useful for
// local runs and tests with no API key configured.
type Mock struct{}

func (Mock) Complete(_ context.Context, prompt string) (string, error) {
	return "[mock]\n" + truncate(prompt, 6000), nil
}

func (Mock) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string)
	words := strings.Fields("[mock] " + truncate(prompt, 6000))
	go func() {
		defer close(out)
		for _, w := range words {
			select {
			case <-ctx.Done():
				return
			case out <- w + " ":
			}
		}
	}()
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ─── OpenAI-chat-completions-compatible HTTP provider ─────────────────────────

const systemPersona = "You are a concise macro liquidity analyst."

type chatCompletions struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	debug      bool
}

func newChatCompletions(apiKey, model, baseURL string, cfg Config) *chatCompletions {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &chatCompletions{
		apiKey: apiKey, model: model, baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps))),
		debug:      cfg.Debug,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *chatCompletions) messages(prompt string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: systemPersona},
		{Role: "user", Content: prompt},
	}
}

func (c *chatCompletions) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := c.do(ctx, chatRequest{Model: c.model, Messages: c.messages(prompt), Temperature: 0.2, MaxTokens: 800})
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading completion body: %w", err)
	}
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *chatCompletions) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	body, err := c.do(ctx, chatRequest{Model: c.model, Messages: c.messages(prompt), Temperature: 0.2, MaxTokens: 800, Stream: true})
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer body.Close()
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- token:
			}
		}
	}()
	return out, nil
}

// do issues the chat-completions POST, honoring the rate limiter and
// retrying on 429/5xx, mirroring internal/fred/client.go's get().
func (c *chatCompletions) do(ctx context.Context, reqBody chatRequest) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	const maxRetries = 4
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))*500) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		if c.debug {
			slog.Debug("llmprovider request", "url", c.baseURL+"/chat/completions", "model", reqBody.Model, "stream", reqBody.Stream)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		return resp.Body, nil
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}
