package notify

import (
	"fmt"
	"net/http"

	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/models"
)

// ChannelConfig is the per-channel configuration the factory needs,
// mirroring config.NotificationChannelConfig plus the transport-specific
// fields each built-in channel requires.
type ChannelConfig struct {
	Enabled   bool
	Recipient string

	// SMTP, used only by the email channel.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// WebhookURL, used by the webhook and chat_bot channels.
	WebhookURL string
}

// Factory builds NotificationChannel implementations from config, and lets
// callers register additional channel kinds at runtime (§4.11).
type Factory struct {
	custom map[models.ChannelType]func(ChannelConfig) (interfaces.NotificationChannel, error)
	store  interfaces.SharedStore
	client *http.Client
}

// NewFactory builds a Factory. store backs the in_app channel.
func NewFactory(store interfaces.SharedStore, client *http.Client) *Factory {
	return &Factory{
		custom: make(map[models.ChannelType]func(ChannelConfig) (interfaces.NotificationChannel, error)),
		store:  store,
		client: client,
	}
}

// Register adds or overrides a channel kind.
func (f *Factory) Register(kind models.ChannelType, build func(ChannelConfig) (interfaces.NotificationChannel, error)) {
	f.custom[kind] = build
}

// Build instantiates every enabled channel in channels, skipping any that
// refuse to validate their own configuration (unconfigured channels never
// block the others).
func (f *Factory) Build(channels map[models.ChannelType]ChannelConfig) map[models.ChannelType]interfaces.NotificationChannel {
	built := make(map[models.ChannelType]interfaces.NotificationChannel, len(channels))
	for kind, cfg := range channels {
		if !cfg.Enabled {
			continue
		}
		channel, err := f.buildOne(kind, cfg)
		if err != nil {
			continue
		}
		built[kind] = channel
	}
	return built
}

func (f *Factory) buildOne(kind models.ChannelType, cfg ChannelConfig) (interfaces.NotificationChannel, error) {
	if build, ok := f.custom[kind]; ok {
		return build(cfg)
	}

	switch kind {
	case models.ChannelEmail:
		if cfg.SMTPHost == "" || cfg.Recipient == "" {
			return nil, fmt.Errorf("email channel missing smtp host or recipient")
		}
		return NewEmailChannel(EmailConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			Recipient: cfg.Recipient,
		}), nil
	case models.ChannelWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook channel missing url")
		}
		return NewWebhookChannel(WebhookConfig{URL: cfg.WebhookURL, Recipient: cfg.Recipient}, f.client), nil
	case models.ChannelChatBot:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("chat_bot channel missing url")
		}
		return NewChatBotChannel(WebhookConfig{URL: cfg.WebhookURL, Recipient: cfg.Recipient}, f.client), nil
	case models.ChannelInApp:
		if cfg.Recipient == "" {
			return nil, fmt.Errorf("in_app channel missing recipient")
		}
		return NewInAppChannel(InAppConfig{Recipient: cfg.Recipient}, f.store), nil
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}
