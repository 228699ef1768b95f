// Package loopback provides the local echo provider. Every message it
// receives is re-emitted onto the bus as a fresh inbound message with Source
// amended to the reserved loopback id, so other providers see it as
// locally-originated traffic.
//
// The default router keeps relay-originated ("agora.") broadcasts away from
// this provider; without that suppression every relay message would be echoed
// back out twice.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rookdaemon/agorabus"
)

const (
	// ProviderID is fixed: the router's suppression rule matches on it.
	ProviderID = agorabus.ReservedLoopbackID

	ProviderName = "loopback"

	defaultBuffer = 64
)

func init() {
	if err := agorabus.RegisterProviderFactory(ProviderName, func(cfg map[string]any) (agorabus.Provider, error) {
		buffer := defaultBuffer
		switch v := cfg["buffer"].(type) {
		case int:
			buffer = v
		case float64:
			buffer = int(v)
		}
		return New(Config{Buffer: buffer}), nil
	}); err != nil {
		panic(fmt.Errorf("agorabus/loopback: failed to register provider factory: %w", err))
	}
}

// ErrNotStarted is returned by Send before Start (or after Stop).
var ErrNotStarted = errors.New("loopback: provider not started")

// Config controls loopback behavior.
type Config struct {
	// Buffer is the echo queue size (default: 64). When full, the oldest
	// queued message is dropped to make room; the echo path never blocks a
	// publish fan-out.
	Buffer int
}

// Provider echoes sends back as inbound messages through a pump goroutine.
type Provider struct {
	queue chan *agorabus.Message

	mu      sync.Mutex
	handler agorabus.InboundHandler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

var _ agorabus.Provider = (*Provider)(nil)

// New creates a loopback provider.
func New(cfg Config) *Provider {
	if cfg.Buffer < 1 {
		cfg.Buffer = defaultBuffer
	}
	return &Provider{
		queue: make(chan *agorabus.Message, cfg.Buffer),
	}
}

func (p *Provider) ID() string { return ProviderID }

// MessageTypes declares no restriction; the echo accepts anything routed to it.
func (p *Provider) MessageTypes() []string { return nil }

func (p *Provider) OnMessage(h agorabus.InboundHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Start launches the pump goroutine. Idempotent.
func (p *Provider) Start(_ context.Context) error {
	if p.started.Swap(true) {
		return nil
	}
	pctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.pump(pctx)
	return nil
}

// Stop halts the pump and waits for it. Queued messages survive a restart.
func (p *Provider) Stop(_ context.Context) error {
	if !p.started.Swap(false) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *Provider) IsReady(_ context.Context) bool { return p.started.Load() }

// Send enqueues the message for echo. Queue full drops the oldest entry and
// retries, mirroring the buffered-bus semantics the echo path inherits.
func (p *Provider) Send(_ context.Context, msg *agorabus.Message) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	select {
	case p.queue <- msg:
	default:
		select {
		case <-p.queue:
		default:
		}
		select {
		case p.queue <- msg:
		default:
		}
	}
	return nil
}

func (p *Provider) pump(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			p.mu.Lock()
			h := p.handler
			p.mu.Unlock()
			if h == nil {
				continue
			}
			// A fresh value with Source amended; ID and Timestamp carry over.
			h(ctx, msg.WithSource(ProviderID))
		}
	}
}
