// Package notification is the outbound messaging surface ORCH calls after
// deciding a work item produced something user-visible. It exposes a
// Notifier interface with Telegram and Discord implementations; unlike a
// single-operator bot, every Send call here takes its chat_id explicitly
// since the core is multi-tenant (one Telegram bot token serving many
// chat_ids).
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

// Notifier is the send(chat_id, text, parse_markdown) contract the core
// exposes to ORCH. A failed Send must leave DB state untouched by the
// caller (alerts stay pending, signal memory is not updated) so the next
// tick retries.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, parseMarkdown bool) error
	Name() string
	IsEnabled() bool
}

// Manager fans a single logical send out to every enabled Notifier,
// collecting the last error but attempting every provider.
type Manager struct {
	notifiers []Notifier
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add registers a Notifier.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers text to chatID via every enabled provider. Returns nil if at
// least one provider delivered (or none is enabled); only when every enabled
// provider fails does it return the last provider error, wrapped as
// TransientNetwork, so callers know nothing went out before mutating DB state.
func (m *Manager) Send(ctx context.Context, chatID int64, text string, parseMarkdown bool) error {
	var lastErr error
	sent := false
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, chatID, text, parseMarkdown); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}
	if !sent && lastErr != nil {
		return errs.Wrap(errs.TransientNetwork, "notification delivery failed on all providers", lastErr)
	}
	return nil
}

// --- Telegram ----------------------------------------------------------------

// TelegramConfig holds the bot-wide Telegram configuration; chat_id is
// supplied per Send call, not here.
type TelegramConfig struct {
	BotToken string
	Enabled  bool
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier builds a TelegramNotifier from cfg.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		enabled:  cfg.Enabled && cfg.BotToken != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string     { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool  { return t.enabled }

// Send posts text to chatID via sendMessage.
func (t *TelegramNotifier) Send(ctx context.Context, chatID int64, text string, parseMarkdown bool) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMarkdown {
		payload["parse_mode"] = "Markdown"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "marshal telegram payload", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "build telegram request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "send telegram message", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.RateLimited, "telegram rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.TransientNetwork, fmt.Sprintf("telegram API returned status %d", resp.StatusCode))
	}
	return nil
}

// --- Discord -----------------------------------------------------------------

// DiscordConfig holds the single webhook a DiscordNotifier posts to.
// Discord has no chat_id concept of its own; every Send goes to this one
// webhook whatever chat_id it is given.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// DiscordNotifier posts to a single fixed webhook regardless of chatID; the
// chatID parameter is accepted for interface conformance and ignored.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier builds a DiscordNotifier from cfg.
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string    { return "discord" }
func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

// Send posts text as a Discord embed. chatID is unused since a webhook
// targets one fixed channel.
func (d *DiscordNotifier) Send(ctx context.Context, chatID int64, text string, parseMarkdown bool) error {
	if !d.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"description": text,
				"color":       0x00AEEF,
				"timestamp":   time.Now().Format(time.RFC3339),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "marshal discord payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "build discord request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.TransientNetwork, "send discord message", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.RateLimited, "discord rate limited")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errs.New(errs.TransientNetwork, fmt.Sprintf("discord API returned status %d", resp.StatusCode))
	}
	return nil
}
