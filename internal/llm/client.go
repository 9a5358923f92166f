// Package llm is a provider-agnostic LLM client used by PP and SC. It talks
// to each provider's raw HTTP API directly, adding context.Context
// propagation and errs.Kind-tagged failures so callers can distinguish a
// transient network error from a provider-side rejection.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

// Provider identifies which LLM backend a request targets.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// Config holds per-tenant LLM client configuration. PP and SC each build a
// Client from the tenant's configured provider and API key.
type Config struct {
	Provider    Provider
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns the defaults main starts from before overriding
// Provider, Model and APIKey from configuration; the resulting client is
// shared by the screener's quick-score calls and PP's plan generation.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderClaude,
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   1024,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// Client issues completion requests against one configured provider.
type Client struct {
	config     Config
	httpClient *http.Client

	// Endpoint overrides, empty by default (production URLs below). Tests
	// in this package set these directly to point at an httptest server.
	claudeURL   string
	openAIURL   string
	deepSeekURL string
}

// NewClient builds a Client for cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Provider returns the configured provider.
func (c *Client) Provider() Provider { return c.config.Provider }

// IsConfigured reports whether an API key has been set.
func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends systemPrompt/userPrompt to the configured provider and
// returns the raw text reply. Callers needing structured output (PP's
// trading plan, SC's quick score) parse the returned text as strict JSON
// themselves, per each caller's own schema.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch c.config.Provider {
	case ProviderClaude:
		return c.completeClaude(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		endpoint := "https://api.openai.com/v1/chat/completions"
		if c.openAIURL != "" {
			endpoint = c.openAIURL
		}
		return c.completeOpenAI(ctx, systemPrompt, userPrompt, endpoint)
	case ProviderDeepSeek:
		endpoint := "https://api.deepseek.com/v1/chat/completions"
		if c.deepSeekURL != "" {
			endpoint = c.deepSeekURL
		}
		return c.completeOpenAI(ctx, systemPrompt, userPrompt, endpoint)
	default:
		return "", errs.New(errs.PlanGenerationFailed, fmt.Sprintf("unsupported llm provider: %s", c.config.Provider))
	}
}

func (c *Client) completeClaude(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := claudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: userPrompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "marshal claude request", err)
	}

	endpoint := "https://api.anthropic.com/v1/messages"
	if c.claudeURL != "" {
		endpoint = c.claudeURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "build claude request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp claudeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "unmarshal claude response", err)
	}
	if resp.Error != nil {
		return "", errs.New(errs.PlanGenerationFailed, fmt.Sprintf("claude error: %s - %s", resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Content) == 0 {
		return "", errs.New(errs.PlanGenerationFailed, "empty response from claude")
	}
	return resp.Content[0].Text, nil
}

func (c *Client) completeOpenAI(ctx context.Context, systemPrompt, userPrompt, endpoint string) (string, error) {
	reqBody := openAIRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errs.Wrap(errs.PlanGenerationFailed, "unmarshal response", err)
	}
	if resp.Error != nil {
		return "", errs.New(errs.PlanGenerationFailed, fmt.Sprintf("provider error: %s - %s", resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.PlanGenerationFailed, "empty response from provider")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "llm request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "read llm response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errs.New(errs.RateLimited, "llm provider rate limited")
	}
	if resp.StatusCode >= 500 {
		return nil, errs.New(errs.TransientNetwork, fmt.Sprintf("llm provider status %d", resp.StatusCode))
	}
	return body, nil
}
