// Package session provides the session-injection provider. It bridges the bus
// to a host conversation loop: messages routed to it queue on a channel the
// host drains, and host-side input is injected back onto the bus as inbound
// traffic.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rookdaemon/agorabus"
)

const (
	ProviderName = "session"

	// InboundType tags messages injected from the host session.
	InboundType = "session.inbound"

	// MetaSender carries the host-side sender identifier on injected messages.
	MetaSender = "sender_id"

	defaultID     = "session"
	defaultBuffer = 64
)

func init() {
	if err := agorabus.RegisterProviderFactory(ProviderName, func(cfg map[string]any) (agorabus.Provider, error) {
		c := ConfigFromMap(cfg)
		return New(c), nil
	}); err != nil {
		panic(fmt.Errorf("agorabus/session: failed to register provider factory: %w", err))
	}
}

// ErrNotStarted is returned by Send and Inject before Start (or after Stop).
var ErrNotStarted = errors.New("session: provider not started")

// Config controls session provider behavior.
type Config struct {
	// ID is the provider id (default: "session").
	ID string
	// Buffer is the outbound queue size (default: 64). When full, the oldest
	// queued message is dropped so a slow host loop never blocks the fan-out.
	Buffer int
	// MessageTypes declares the handled type namespaces (empty = all).
	MessageTypes []string
}

// Defaults returns a Config with standard settings.
func Defaults() Config {
	return Config{ID: defaultID, Buffer: defaultBuffer}
}

// ConfigFromMap safely converts a generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, ok := m["id"].(string); ok && v != "" {
		c.ID = v
	}
	switch v := m["buffer"].(type) {
	case int:
		if v > 0 {
			c.Buffer = v
		}
	case float64:
		if v > 0 {
			c.Buffer = int(v)
		}
	}
	switch v := m["message_types"].(type) {
	case []string:
		c.MessageTypes = v
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				c.MessageTypes = append(c.MessageTypes, s)
			}
		}
	}
	return c
}

// Provider is the session-injection endpoint.
type Provider struct {
	cfg Config
	out chan *agorabus.Message

	mu      sync.Mutex
	handler agorabus.InboundHandler

	started atomic.Bool
}

var _ agorabus.Provider = (*Provider)(nil)

// New creates a session provider.
func New(cfg Config) *Provider {
	if cfg.ID == "" {
		cfg.ID = defaultID
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = defaultBuffer
	}
	return &Provider{
		cfg: cfg,
		out: make(chan *agorabus.Message, cfg.Buffer),
	}
}

func (p *Provider) ID() string { return p.cfg.ID }

func (p *Provider) MessageTypes() []string {
	return append([]string(nil), p.cfg.MessageTypes...)
}

func (p *Provider) OnMessage(h agorabus.InboundHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Provider) Start(_ context.Context) error {
	p.started.Store(true)
	return nil
}

func (p *Provider) Stop(_ context.Context) error {
	p.started.Store(false)
	return nil
}

func (p *Provider) IsReady(_ context.Context) bool { return p.started.Load() }

// Send queues a message for the host loop. Queue full drops the oldest entry
// and retries.
func (p *Provider) Send(_ context.Context, msg *agorabus.Message) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	select {
	case p.out <- msg:
	default:
		select {
		case <-p.out:
		default:
		}
		select {
		case p.out <- msg:
		default:
		}
	}
	return nil
}

// Messages returns the receive-only queue the host loop drains.
func (p *Provider) Messages() <-chan *agorabus.Message { return p.out }

// Inject builds a session.inbound message from host-side input and drives it
// through the bus handler, so it is re-routed to the other providers.
func (p *Provider) Inject(ctx context.Context, senderID, content string, meta map[string]string) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return errors.New("session: provider not registered with a bus")
	}

	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[MetaSender] = senderID
	msg, err := agorabus.NewMessage(agorabus.Options{
		Type:    InboundType,
		Source:  p.cfg.ID,
		Payload: content,
		Meta:    meta,
	})
	if err != nil {
		return err
	}
	h(ctx, msg)
	return nil
}
