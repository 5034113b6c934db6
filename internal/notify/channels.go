package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/smtp"
	"net/url"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Recipient string
}

// EmailChannel sends MIME email over SMTP, composed with emersion/go-message
// the way a Go mail client builds multipart bodies, with every user-supplied
// field HTML-escaped before inclusion (§4.11 security guard).
type EmailChannel struct {
	cfg EmailConfig
}

// NewEmailChannel builds an EmailChannel. It refuses to send if host or
// recipient is unconfigured.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (c *EmailChannel) Type() models.ChannelType { return models.ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, msg models.NotificationMessage) error {
	if c.cfg.Host == "" || c.cfg.Recipient == "" {
		return fmt.Errorf("email channel not configured")
	}

	var buf bytes.Buffer
	from := []*mail.Address{{Name: "", Address: c.cfg.From}}
	to := []*mail.Address{{Name: "", Address: c.cfg.Recipient}}

	var h mail.Header
	h.SetAddressList("From", from)
	h.SetAddressList("To", to)
	h.SetSubject(html.EscapeString(msg.Subject))
	h.SetDate(time.Now())
	h.Set("Content-Type", "text/html; charset=utf-8")

	mw, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return fmt.Errorf("create mime writer: %w", err)
	}
	if _, err := mw.Write([]byte(msg.BodyHTML)); err != nil {
		return fmt.Errorf("write mime body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close mime writer: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, c.cfg.From, []string{c.cfg.Recipient}, buf.Bytes()); err != nil {
		return fmt.Errorf("send email to %s: %w", maskRecipient(c.cfg.Recipient), err)
	}
	return nil
}

// WebhookConfig configures a generic HTTP webhook channel.
type WebhookConfig struct {
	URL       string
	Recipient string
}

// WebhookChannel POSTs a JSON payload to an arbitrary HTTP endpoint, gated
// by ValidateWebhookURL on every send (URLs can rotate at runtime).
type WebhookChannel struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookChannel builds a WebhookChannel.
func NewWebhookChannel(cfg WebhookConfig, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{cfg: cfg, client: client}
}

func (c *WebhookChannel) Type() models.ChannelType { return models.ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, msg models.NotificationMessage) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("webhook channel not configured")
	}
	if err := ValidateWebhookURL(c.cfg.URL); err != nil {
		return fmt.Errorf("webhook url rejected: %w", err)
	}

	payload, err := json.Marshal(webhookPayload{
		Subject:  msg.Subject,
		Body:     msg.BodyText,
		Metadata: msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request to %s: %w", maskRecipient(c.cfg.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", maskRecipient(c.cfg.URL), resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata"`
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 30 * time.Second
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// RateLimitError is returned by a channel when the remote end signals a
// rate limit, carrying how long the caller should back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ChatBotChannel is a thin specialization of WebhookChannel for chat
// messenger bot APIs (Slack/Teams-shaped incoming webhooks), which HTML-
// escapes text fields since most chat renderers accept limited markup.
type ChatBotChannel struct {
	webhook *WebhookChannel
}

// NewChatBotChannel builds a ChatBotChannel.
func NewChatBotChannel(cfg WebhookConfig, client *http.Client) *ChatBotChannel {
	return &ChatBotChannel{webhook: NewWebhookChannel(cfg, client)}
}

func (c *ChatBotChannel) Type() models.ChannelType { return models.ChannelChatBot }

func (c *ChatBotChannel) Send(ctx context.Context, msg models.NotificationMessage) error {
	escaped := msg
	escaped.Subject = html.EscapeString(msg.Subject)
	escaped.BodyText = html.EscapeString(msg.BodyText)
	return c.webhook.Send(ctx, escaped)
}

// InAppConfig configures the in-app channel, which writes to the shared KV
// store rather than an external transport.
type InAppConfig struct {
	Recipient string
	TTL       time.Duration
}

// InAppChannel persists the message into SharedStore for the web/API layer
// to surface; it never reaches outside the process boundary, so it carries
// no SSRF exposure.
type InAppChannel struct {
	cfg   InAppConfig
	store interfaces.SharedStore
}

// NewInAppChannel builds an InAppChannel.
func NewInAppChannel(cfg InAppConfig, store interfaces.SharedStore) *InAppChannel {
	return &InAppChannel{cfg: cfg, store: store}
}

func (c *InAppChannel) Type() models.ChannelType { return models.ChannelInApp }

func (c *InAppChannel) Send(ctx context.Context, msg models.NotificationMessage) error {
	if c.cfg.Recipient == "" {
		return fmt.Errorf("in-app channel not configured")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal in-app notification: %w", err)
	}
	ttl := c.cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	key := fmt.Sprintf("inapp:%s:%s", c.cfg.Recipient, msg.MatchID)
	return c.store.Set(ctx, key, string(payload), ttl)
}

// maskRecipient returns a logging-safe form of a recipient identifier
// (email, URL, chat handle), per the §4.11 security guard.
func maskRecipient(recipient string) string {
	if recipient == "" {
		return ""
	}
	if u, err := url.Parse(recipient); err == nil && u.Host != "" {
		return u.Scheme + "://" + maskTail(u.Host)
	}
	return maskTail(recipient)
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
