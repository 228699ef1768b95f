package redisrelay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/rookdaemon/agorabus"
)

const ProviderName = "redis-relay"

func init() {
	if err := agorabus.RegisterProviderFactory(ProviderName, func(cfg map[string]any) (agorabus.Provider, error) {
		return New(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("agorabus/redisrelay: failed to register provider factory: %w", err))
	}
}

// ErrNotStarted is returned by Send before Start (or after Stop).
var ErrNotStarted = errors.New("redisrelay: provider not started")

// MetaOrigin carries the remote peer's source id on relayed-in messages.
const MetaOrigin = "relay_origin"

// envelope is the wire form of a relayed message.
type envelope struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Source      string            `json:"source,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Payload     any               `json:"payload,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Provider relays bus traffic over Redis Pub/Sub: Send publishes envelopes to
// the outbound channel, and a receive pump turns envelopes arriving on the
// inbound channel into local inbound messages in the "agora." namespace.
type Provider struct {
	cfg    Config
	codec  agorabus.Codec
	logger *xlog.Logger
	clock  xclock.Clock

	client *redis.Client
	sub    *redis.PubSub

	mu      sync.Mutex
	handler agorabus.InboundHandler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

var _ agorabus.Provider = (*Provider)(nil)

// New creates a Redis relay provider from config.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redisrelay: %w", err)
	}
	codec, err := agorabus.NewCodec(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("redisrelay: %w", err)
	}
	return &Provider{
		cfg:    cfg,
		codec:  codec,
		logger: xlog.Default(),
		clock:  xclock.Default(),
	}, nil
}

func (p *Provider) ID() string { return p.cfg.ID }

// MessageTypes declares no restriction; the relay forwards whatever the
// router hands it.
func (p *Provider) MessageTypes() []string { return nil }

func (p *Provider) OnMessage(h agorabus.InboundHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Start connects to Redis and launches the receive pump. Idempotent.
func (p *Provider) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return nil
	}

	p.client = redis.NewClient(&redis.Options{
		Addr:     p.cfg.Addr,
		Username: p.cfg.Username,
		Password: p.cfg.Password,
		DB:       p.cfg.DB,
	})
	if err := p.client.Ping(ctx).Err(); err != nil {
		p.started.Store(false)
		return fmt.Errorf("redisrelay: ping: %w", err)
	}

	// The subscription outlives Start's ctx; Stop cancels it.
	pctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.sub = p.client.Subscribe(pctx, p.cfg.InboundChannel)

	p.wg.Add(1)
	go p.receive(pctx)
	return nil
}

// Stop halts the pump and releases the connection. Idempotent.
func (p *Provider) Stop(_ context.Context) error {
	if !p.started.Swap(false) {
		return nil
	}
	p.cancel()
	err := p.sub.Close()
	p.wg.Wait()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (p *Provider) IsReady(ctx context.Context) bool {
	if !p.started.Load() || p.client == nil {
		return false
	}
	return p.client.Ping(ctx).Err() == nil
}

// Send publishes the message envelope to the outbound channel.
func (p *Provider) Send(ctx context.Context, msg *agorabus.Message) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	data, err := p.codec.Marshal(envelope{
		ID:          msg.ID,
		Type:        msg.Type,
		Source:      msg.Source,
		Destination: msg.Destination,
		Payload:     msg.Payload,
		Meta:        msg.Meta,
		Timestamp:   msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("redisrelay: encode: %w", err)
	}
	return p.client.Publish(ctx, p.cfg.OutboundChannel, data).Err()
}

// receive pumps inbound envelopes into the bus handler.
func (p *Provider) receive(ctx context.Context) {
	defer p.wg.Done()
	ch := p.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case rm, ok := <-ch:
			if !ok {
				return
			}
			msg, err := p.decode([]byte(rm.Payload))
			if err != nil {
				p.logger.Warn().Err(err).Msg("redisrelay: dropping undecodable envelope")
				continue
			}
			p.mu.Lock()
			h := p.handler
			p.mu.Unlock()
			if h == nil {
				continue
			}
			h(ctx, msg)
		}
	}
}

// decode turns a wire envelope into a local inbound message. The type is
// forced into the relay namespace and the source becomes this provider's id,
// so broadcast routing never sends relayed traffic straight back to the wire.
// The remote id and timestamp carry over for idempotency-based consumers.
func (p *Provider) decode(data []byte) (*agorabus.Message, error) {
	env, err := agorabus.DecodeCodec[envelope](p.codec, data)
	if err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}

	typ := env.Type
	if !strings.HasPrefix(typ, agorabus.RelayTypePrefix) {
		typ = agorabus.RelayTypePrefix + typ
	}
	id := env.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = p.clock.Now()
	}
	meta := env.Meta
	if env.Source != "" {
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[MetaOrigin] = env.Source
	}

	return &agorabus.Message{
		ID:          id,
		Type:        typ,
		Source:      p.cfg.ID,
		Destination: env.Destination,
		Payload:     env.Payload,
		Meta:        meta,
		Timestamp:   ts,
	}, nil
}
