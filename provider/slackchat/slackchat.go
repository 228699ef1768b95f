// Package slackchat provides the outbound-chat provider. Messages routed to
// it are posted to a Slack channel; it declares the "chat." type namespace
// and carries no receive side.
package slackchat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	slackgo "github.com/slack-go/slack"

	"github.com/rookdaemon/agorabus"
)

const ProviderName = "slack-chat"

func init() {
	if err := agorabus.RegisterProviderFactory(ProviderName, func(cfg map[string]any) (agorabus.Provider, error) {
		return New(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("agorabus/slackchat: failed to register provider factory: %w", err))
	}
}

// ErrNotStarted is returned by Send before Start (or after Stop).
var ErrNotStarted = errors.New("slackchat: provider not started")

// Config for the Slack outbound-chat provider.
type Config struct {
	// ID is the provider id on the local bus (default: "slack").
	ID string
	// BotToken is the xoxb- token used for posting.
	BotToken string
	// Channel is the Slack channel id messages are posted to.
	Channel string
}

// Defaults returns a Config with standard settings.
func Defaults() Config {
	return Config{ID: "slack"}
}

// Validate checks Config completeness.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config: id required")
	}
	if c.BotToken == "" {
		return fmt.Errorf("config: bot_token required")
	}
	if c.Channel == "" {
		return fmt.Errorf("config: channel required")
	}
	return nil
}

// ConfigFromMap safely converts a generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, ok := m["id"].(string); ok && v != "" {
		c.ID = v
	}
	if v, ok := m["bot_token"].(string); ok {
		c.BotToken = v
	}
	if v, ok := m["channel"].(string); ok {
		c.Channel = v
	}
	return c
}

// Provider posts routed messages to Slack.
type Provider struct {
	cfg       Config
	client    *slackgo.Client
	botUserID string
	started   atomic.Bool
}

var _ agorabus.Provider = (*Provider)(nil)

// New creates a Slack chat provider from config.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("slackchat: %w", err)
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) ID() string { return p.cfg.ID }

// MessageTypes declares the chat namespace this provider understands.
func (p *Provider) MessageTypes() []string {
	return []string{"chat.message", "chat.notice"}
}

// OnMessage stores the handler for interface completeness; this provider has
// no receive side, so it never fires.
func (p *Provider) OnMessage(_ agorabus.InboundHandler) {}

// Start authenticates against the Slack API. Idempotent.
func (p *Provider) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return nil
	}
	p.client = slackgo.New(p.cfg.BotToken)
	resp, err := p.client.AuthTestContext(ctx)
	if err != nil {
		p.started.Store(false)
		return fmt.Errorf("slackchat: auth test: %w", err)
	}
	p.botUserID = resp.UserID
	return nil
}

func (p *Provider) Stop(_ context.Context) error {
	p.started.Store(false)
	return nil
}

func (p *Provider) IsReady(ctx context.Context) bool {
	if !p.started.Load() || p.client == nil {
		return false
	}
	_, err := p.client.AuthTestContext(ctx)
	return err == nil
}

// Send posts the message payload as channel text.
func (p *Provider) Send(ctx context.Context, msg *agorabus.Message) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	text := payloadText(msg.Payload)
	if text == "" {
		return fmt.Errorf("slackchat: message %s has no textual payload", msg.ID)
	}
	_, _, err := p.client.PostMessageContext(ctx, p.cfg.Channel,
		slackgo.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slackchat: post message: %w", err)
	}
	return nil
}

func payloadText(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}
