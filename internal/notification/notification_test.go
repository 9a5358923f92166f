package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

type fakeNotifier struct {
	name    string
	enabled bool
	err     error
	sent    int
}

func (f *fakeNotifier) Name() string    { return f.name }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }
func (f *fakeNotifier) Send(ctx context.Context, chatID int64, text string, parseMarkdown bool) error {
	f.sent++
	return f.err
}

func TestManagerSendSkipsDisabledNotifiers(t *testing.T) {
	a := &fakeNotifier{name: "a", enabled: false}
	b := &fakeNotifier{name: "b", enabled: true}
	m := NewManager()
	m.Add(a)
	m.Add(b)

	if err := m.Send(context.Background(), 1, "hi", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.sent != 0 {
		t.Error("expected the disabled notifier to be skipped")
	}
	if b.sent != 1 {
		t.Error("expected the enabled notifier to receive the message")
	}
}

func TestManagerSendSucceedsIfAnyProviderSucceeds(t *testing.T) {
	failing := &fakeNotifier{name: "a", enabled: true, err: errs.New(errs.TransientNetwork, "down")}
	ok := &fakeNotifier{name: "b", enabled: true}
	m := NewManager()
	m.Add(failing)
	m.Add(ok)

	if err := m.Send(context.Background(), 1, "hi", false); err != nil {
		t.Errorf("expected success when at least one provider delivers, got %v", err)
	}
}

func TestManagerSendFailsOnlyWhenAllProvidersFail(t *testing.T) {
	a := &fakeNotifier{name: "a", enabled: true, err: errs.New(errs.TransientNetwork, "down")}
	b := &fakeNotifier{name: "b", enabled: true, err: errs.New(errs.RateLimited, "throttled")}
	m := NewManager()
	m.Add(a)
	m.Add(b)

	err := m.Send(context.Background(), 1, "hi", false)
	if !errs.Is(err, errs.TransientNetwork) {
		t.Errorf("expected a TransientNetwork aggregate error, got %v", err)
	}
}

func TestDiscordNotifierPostsEmbedPayload(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL + "/webhook", Enabled: true})
	if err := d.Send(context.Background(), 0, "test alert", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/webhook" {
		t.Errorf("expected the configured webhook path, got %s", gotPath)
	}
}

func TestDiscordNotifierMapsRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true})
	err := d.Send(context.Background(), 0, "test alert", false)
	if !errs.Is(err, errs.RateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}
}

func TestDiscordNotifierDisabledWithoutWebhookURL(t *testing.T) {
	d := NewDiscordNotifier(DiscordConfig{Enabled: true})
	if d.IsEnabled() {
		t.Error("expected a notifier with no webhook URL to be disabled regardless of the Enabled flag")
	}
}
