// Package memory provides an in-memory provider used as a test double and for
// local wiring. It records outbound sends and lets tests inject inbound
// messages straight into the bus handler.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rookdaemon/agorabus"
)

const ProviderName = "memory"

func init() {
	if err := agorabus.RegisterProviderFactory(ProviderName, func(cfg map[string]any) (agorabus.Provider, error) {
		id, _ := cfg["id"].(string)
		if id == "" {
			return nil, errors.New("memory: config id required")
		}
		var types []string
		switch v := cfg["message_types"].(type) {
		case []string:
			types = v
		case []any:
			for _, t := range v {
				if s, ok := t.(string); ok {
					types = append(types, s)
				}
			}
		}
		return New(id, WithMessageTypes(types...)), nil
	}); err != nil {
		panic(fmt.Errorf("agorabus/memory: failed to register provider factory: %w", err))
	}
}

// ErrNotStarted is returned by Send before Start (or after Stop).
var ErrNotStarted = errors.New("memory: provider not started")

// Option configures a Provider.
type Option func(*Provider)

// WithMessageTypes sets the declared type namespaces (empty = all).
func WithMessageTypes(types ...string) Option {
	return func(p *Provider) { p.types = append([]string(nil), types...) }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(p *Provider) { p.startErr = err }
}

// WithSendError makes every Send fail with err once started.
func WithSendError(err error) Option {
	return func(p *Provider) { p.sendErr = err }
}

// WithNotReady makes IsReady report false even after a successful Start.
func WithNotReady() Option {
	return func(p *Provider) { p.notReady = true }
}

// Provider is the in-memory transport endpoint.
type Provider struct {
	id    string
	types []string

	mu       sync.Mutex
	handler  agorabus.InboundHandler
	started  bool
	sent     []*agorabus.Message
	startErr error
	sendErr  error
	notReady bool
}

var _ agorabus.Provider = (*Provider)(nil)

// New creates a memory provider with the given id.
func New(id string, opts ...Option) *Provider {
	p := &Provider{id: id}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) MessageTypes() []string {
	return append([]string(nil), p.types...)
}

func (p *Provider) OnMessage(h agorabus.InboundHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Provider) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *Provider) Stop(_ context.Context) error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return nil
}

func (p *Provider) IsReady(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.notReady
}

// Send records the message. Fails with ErrNotStarted before Start, or with
// the configured send error.
func (p *Provider) Send(_ context.Context, msg *agorabus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

// Inject drives one inbound message through the bus handler, as if it arrived
// from this provider's transport. Fails before Start and before registration.
func (p *Provider) Inject(ctx context.Context, msg *agorabus.Message) error {
	p.mu.Lock()
	h := p.handler
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if h == nil {
		return errors.New("memory: provider not registered with a bus")
	}
	h(ctx, msg)
	return nil
}

// Sent returns a snapshot of every message delivered to this provider.
func (p *Provider) Sent() []*agorabus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*agorabus.Message(nil), p.sent...)
}

// SetSendError swaps the forced send failure at runtime (nil clears it).
func (p *Provider) SetSendError(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

// SetReady toggles the readiness override at runtime.
func (p *Provider) SetReady(ready bool) {
	p.mu.Lock()
	p.notReady = !ready
	p.mu.Unlock()
}
