package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

func TestCompleteClaudeReturnsFirstContentBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("expected the configured API key on the x-api-key header")
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"BUY"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderClaude, APIKey: "test-key", Model: "m"})
	c.claudeURL = srv.URL

	got, err := c.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "BUY" {
		t.Errorf("expected BUY, got %q", got)
	}
}

func TestCompleteClaudeMapsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderClaude, APIKey: "k"})
	c.claudeURL = srv.URL

	_, err := c.Complete(context.Background(), "s", "u")
	if !errs.Is(err, errs.PlanGenerationFailed) {
		t.Errorf("expected PlanGenerationFailed, got %v", err)
	}
}

func TestCompleteOpenAIUsesBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Error("expected a bearer-token Authorization header")
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"SELL"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Provider: ProviderOpenAI, APIKey: "sk-test"})
	c.openAIURL = srv.URL

	got, err := c.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELL" {
		t.Errorf("expected SELL, got %q", got)
	}
}

func TestDoMapsRateLimitAndServerErrorStatuses(t *testing.T) {
	rateLimited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer rateLimited.Close()
	serverErr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer serverErr.Close()

	c1 := NewClient(Config{Provider: ProviderDeepSeek, APIKey: "k"})
	c1.deepSeekURL = rateLimited.URL
	if _, err := c1.Complete(context.Background(), "s", "u"); !errs.Is(err, errs.RateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}

	c2 := NewClient(Config{Provider: ProviderDeepSeek, APIKey: "k"})
	c2.deepSeekURL = serverErr.URL
	if _, err := c2.Complete(context.Background(), "s", "u"); !errs.Is(err, errs.TransientNetwork) {
		t.Errorf("expected TransientNetwork, got %v", err)
	}
}

func TestIsConfiguredReflectsAPIKeyPresence(t *testing.T) {
	withKey := NewClient(Config{APIKey: "x"})
	withoutKey := NewClient(Config{})
	if !withKey.IsConfigured() {
		t.Error("expected IsConfigured to be true with a non-empty API key")
	}
	if withoutKey.IsConfigured() {
		t.Error("expected IsConfigured to be false with an empty API key")
	}
}
