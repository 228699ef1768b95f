package agorabus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

var _ API = (*Bus)(nil)

// Bus is the central orchestrator owning the provider registry, the router,
// the lifecycle flag and the notification listeners. Each Bus is an
// independently constructible unit; there is no process-wide instance.
//
// The provider and listener registries are mutated by RegisterProvider, On and
// Off. Mutating them while Start/Stop/Publish are in flight is not guaranteed
// race-free beyond snapshot isolation; hosts should keep a single-writer
// discipline during lifecycle transitions.
type Bus struct {
	router Router
	clock  xclock.Clock
	logger *xlog.Logger
	send   SendFunc

	providersMu sync.RWMutex
	providers   map[string]Provider

	listenersMu sync.RWMutex
	listeners   map[EventName]map[Listener]struct{}

	started atomic.Bool
}

// RegisterProvider adds a provider and wires its inbound callback to the bus.
// Allowed in any lifecycle state. A colliding id fails with
// *DuplicateProviderError and leaves the first registration intact.
func (b *Bus) RegisterProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("agorabus: provider must not be nil")
	}
	id := p.ID()
	if id == "" {
		return fmt.Errorf("agorabus: provider id must not be empty")
	}

	b.providersMu.Lock()
	if _, ok := b.providers[id]; ok {
		b.providersMu.Unlock()
		return &DuplicateProviderError{ID: id}
	}
	b.providers[id] = p
	b.providersMu.Unlock()

	p.OnMessage(b.inboundHandler())
	return nil
}

// inboundHandler builds the callback handed to every registered provider.
// An inbound message is announced, then re-published through the same path as
// Publish so it reaches all other interested providers. A publish failure
// (bus stopped while the transport was still delivering) is downgraded to a
// message.error notification; it must never propagate back into the
// provider's transport loop.
func (b *Bus) inboundHandler() InboundHandler {
	return func(ctx context.Context, msg *Message) {
		if ctx == nil {
			ctx = context.Background()
		}
		b.emit(Event{Name: EventMessageInbound, Message: msg})
		if err := b.Publish(ctx, msg); err != nil {
			b.emit(Event{Name: EventMessageError, Message: msg, Err: err})
		}
	}
}

// Start brings every registered provider up concurrently, then probes
// readiness concurrently. Idempotent: a second call on a started bus returns
// immediately without touching providers.
//
// A start failure propagates and the bus stays stopped; providers that
// already started are NOT rolled back. The same holds when a readiness probe
// fails (*NotReadyError). This mirrors the long-standing behavior hosts
// depend on; callers wanting cleanup must Stop explicitly.
func (b *Bus) Start(ctx context.Context) error {
	if b.started.Load() {
		return nil
	}

	providers := b.snapshot()

	var g errgroup.Group
	for _, p := range providers {
		p := p
		g.Go(func() error {
			if err := p.Start(ctx); err != nil {
				return fmt.Errorf("start provider %q: %w", p.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		notReady []string
		wg       sync.WaitGroup
	)
	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if !p.IsReady(ctx) {
				mu.Lock()
				notReady = append(notReady, p.ID())
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	if len(notReady) > 0 {
		sort.Strings(notReady)
		return &NotReadyError{IDs: notReady}
	}

	b.started.Store(true)
	b.emit(Event{Name: EventBusStarted})
	return nil
}

// Stop flips the started flag first, so racing Publish calls observe the new
// state promptly, then stops every provider concurrently and waits for all.
// The first stop failure is surfaced after the sweep completes; the state
// transition has already happened either way. Idempotent.
//
// An in-flight Publish that passed its precondition completes its fan-out.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.started.Swap(false) {
		return nil
	}

	var g errgroup.Group
	for _, p := range b.snapshot() {
		p := p
		g.Go(func() error {
			if err := p.Stop(ctx); err != nil {
				return fmt.Errorf("stop provider %q: %w", p.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	b.emit(Event{Name: EventBusStopped})
	return err
}

// Publish routes one message to its targets. The only caller-visible failure
// is ErrBusNotStarted; everything downstream is a notification:
//
//	message.outbound  always, before routing
//	message.dropped   empty target set (normal outcome, nil error)
//	message.routed    one per successful target send
//	message.error     one per failed target send
//
// Target selection is a single snapshot. Sends run one goroutine per target
// and are joined before returning; a failing target never blocks or fails
// delivery to the others.
func (b *Bus) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if !b.started.Load() {
		return ErrBusNotStarted
	}

	b.emit(Event{Name: EventMessageOutbound, Message: msg})

	targets := b.router.Route(msg, b.snapshot())
	if len(targets) == 0 {
		b.emit(Event{Name: EventMessageDropped, Message: msg, Reason: DropReasonNoTargets})
		return nil
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t Provider) {
			defer wg.Done()
			start := b.clock.Now()
			if err := b.send(ctx, t, msg); err != nil {
				b.emit(Event{Name: EventMessageError, Message: msg, ProviderID: t.ID(), Err: err})
				return
			}
			b.emit(Event{
				Name:       EventMessageRouted,
				Message:    msg,
				ProviderID: t.ID(),
				Duration:   b.clock.Since(start),
			})
		}(t)
	}
	wg.Wait()
	return nil
}

// IsStarted reports whether the bus is in the started state.
func (b *Bus) IsStarted() bool { return b.started.Load() }

// Providers returns an unordered snapshot of the registered providers.
func (b *Bus) Providers() []Provider { return b.snapshot() }

// Provider looks up one provider by id.
func (b *Bus) Provider(id string) (Provider, bool) {
	b.providersMu.RLock()
	defer b.providersMu.RUnlock()
	p, ok := b.providers[id]
	return p, ok
}

func (b *Bus) snapshot() []Provider {
	b.providersMu.RLock()
	defer b.providersMu.RUnlock()
	out := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		out = append(out, p)
	}
	return out
}

// On registers a listener for one event. Listeners live in a set keyed by
// interface identity, so adding the same listener twice is a no-op rather
// than a duplicate fire.
func (b *Bus) On(event EventName, l Listener) {
	if l == nil {
		return
	}
	b.listenersMu.Lock()
	set, ok := b.listeners[event]
	if !ok {
		set = make(map[Listener]struct{})
		b.listeners[event] = set
	}
	set[l] = struct{}{}
	b.listenersMu.Unlock()
}

// Off removes a previously registered listener.
func (b *Bus) Off(event EventName, l Listener) {
	if l == nil {
		return
	}
	b.listenersMu.Lock()
	if set, ok := b.listeners[event]; ok {
		delete(set, l)
	}
	b.listenersMu.Unlock()
}

// emit dispatches one event synchronously to the listeners registered for its
// name. Set iteration is unordered. A panicking listener is recovered and
// discarded; it never reaches the emitter or the caller of Publish/Start/Stop.
func (b *Bus) emit(e Event) {
	b.listenersMu.RLock()
	set := b.listeners[e.Name]
	if len(set) == 0 {
		b.listenersMu.RUnlock()
		return
	}
	listeners := make([]Listener, 0, len(set))
	for l := range set {
		listeners = append(listeners, l)
	}
	b.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Listener panic must not crash the dispatch loop.
					b.logger.Warn().Msg("agorabus: listener panic (recovered)")
				}
			}()
			l.OnEvent(e)
		}()
	}
}
