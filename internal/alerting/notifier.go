package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pearl-sniper/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Kind distinguishes the two notification classes the core emits.
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindPurchase    Kind = "purchase"
)

// Notification carries one change event or purchase outcome for delivery.
// Formatting and channel fan-out are entirely this package's concern; the
// core only hands over the facts.
type Notification struct {
	Kind    Kind
	Event   market.ChangeEvent
	Verdict market.Verdict
	Attempt *market.AttemptRecord
	Denial  string
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).Str("key", note.Event.Key.String()).Msg("alert delivered (telegram)")
	return nil
}

// WebhookNotifier posts the rendered message as JSON to a webhook URL, in
// the Discord-compatible {"content": ...} shape.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify delivers the message to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{"content": renderMessage(note)})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().Str("kind", string(note.Kind)).Str("key", note.Event.Key.String()).Msg("alert delivered (webhook)")
	return nil
}

// MultiNotifier fans one notification out to several channels. Each channel
// failure is logged; the first error is returned after all channels ran.
type MultiNotifier struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMultiNotifier constructs a fan-out notifier.
func NewMultiNotifier(logger zerolog.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_multi").Logger(),
	}
}

// Notify dispatches to every channel.
func (n *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var firstErr error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, note); err != nil {
			n.logger.Error().Err(err).Msg("notification channel failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}

	switch note.Kind {
	case KindPurchase:
		builder.WriteString("[Pearl Sniper] Purchase attempt\n")
		if note.Attempt != nil {
			builder.WriteString(fmt.Sprintf("Item: %s (%s)\n", note.Attempt.Name, note.Attempt.Key))
			builder.WriteString(fmt.Sprintf("Price: %s silver\n", formatSilver(note.Attempt.UnitPrice)))
			builder.WriteString(fmt.Sprintf("Outcome: %s\n", note.Attempt.Outcome))
			if note.Attempt.RemoteMessage != "" {
				builder.WriteString(fmt.Sprintf("Remote: %s\n", note.Attempt.RemoteMessage))
			}
		}
	default:
		builder.WriteString("[Pearl Sniper] Listing detected\n")
		builder.WriteString(fmt.Sprintf("Item: %s (%s)\n", note.Event.Entry.Name, note.Event.Key))
		builder.WriteString(fmt.Sprintf("Change: %s (%d -> %d)\n", note.Event.Kind, note.Event.PrevQuantity, note.Event.Quantity))
		builder.WriteString(fmt.Sprintf("Price: %s silver\n", formatSilver(note.Event.Entry.UnitPrice)))
		builder.WriteString(fmt.Sprintf("Est. profit: %s silver (margin %s%%)\n",
			formatSilver(note.Verdict.NetValue),
			note.Verdict.Margin.Mul(hundred).StringFixed(1)))
		if note.Denial != "" {
			builder.WriteString(fmt.Sprintf("Not purchased: %s\n", note.Denial))
		}
	}

	builder.WriteString(fmt.Sprintf("At: %s UTC", note.Event.ObservedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func formatSilver(v int64) string {
	negative := v < 0
	if negative {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if negative {
		return "-" + out
	}
	return out
}

var _ Notifier = (*TelegramNotifier)(nil)
var _ Notifier = (*WebhookNotifier)(nil)
var _ Notifier = (*MultiNotifier)(nil)
