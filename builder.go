package agorabus

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	router    Router
	providers []Provider
	listeners map[EventName][]Listener
	logger    *xlog.Logger
	clock     xclock.Clock
	sendMW    []SendMiddleware
}

// NewBusBuilder returns a new builder with sensible defaults: the stock
// router, the process logger/clock, no providers.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		listeners: make(map[EventName][]Listener),
	}
}

// WithRouter replaces the routing policy (default: DefaultRouter).
func (bb *BusBuilder) WithRouter(r Router) *BusBuilder {
	if r != nil {
		bb.router = r
	}
	return bb
}

// WithProvider registers providers at build time.
func (bb *BusBuilder) WithProvider(ps ...Provider) *BusBuilder {
	for _, p := range ps {
		if p != nil {
			bb.providers = append(bb.providers, p)
		}
	}
	return bb
}

// WithListener attaches a listener to one event.
func (bb *BusBuilder) WithListener(event EventName, l Listener) *BusBuilder {
	if l != nil {
		bb.listeners[event] = append(bb.listeners[event], l)
	}
	return bb
}

// WithLogger injects a custom xlog logger.
func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

// WithClock injects a custom xclock clock.
func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithSendMiddleware adds fan-out middlewares (retry, timeout, etc).
func (bb *BusBuilder) WithSendMiddleware(mw ...SendMiddleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.sendMW = append(bb.sendMW, mw...)
	return bb
}

// Build assembles the Bus, attaches a LoggingListener to every event unless
// one was supplied, and registers the configured providers.
func (bb *BusBuilder) Build() (*Bus, error) {
	router := bb.router
	if router == nil {
		router = DefaultRouter{}
	}
	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	b := &Bus{
		router:    router,
		clock:     clk,
		logger:    lg,
		providers: make(map[string]Provider),
		listeners: make(map[EventName]map[Listener]struct{}),
	}

	// Recovery sits innermost so a panicking Send surfaces as a send failure.
	base := func(ctx context.Context, target Provider, msg *Message) error {
		return target.Send(ctx, msg)
	}
	b.send = ChainSend(RecoverSendMiddleware()(base), bb.sendMW...)

	hasLoggingListener := false
	for _, ls := range bb.listeners {
		for _, l := range ls {
			if _, ok := l.(LoggingListener); ok {
				hasLoggingListener = true
				break
			}
		}
	}
	if !hasLoggingListener && lg != nil {
		ll := LoggingListener{Logger: lg}
		for _, name := range EventNames() {
			b.On(name, ll)
		}
	}

	for event, ls := range bb.listeners {
		for _, l := range ls {
			b.On(event, l)
		}
	}

	for _, p := range bb.providers {
		if err := b.RegisterProvider(p); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// New constructs a Bus via the builder in one call.
func New(init func(bb *BusBuilder)) (*Bus, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	return bb.Build()
}
