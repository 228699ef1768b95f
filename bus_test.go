package agorabus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookdaemon/agorabus"
	"github.com/rookdaemon/agorabus/provider/loopback"
	"github.com/rookdaemon/agorabus/provider/memory"
)

// eventRecorder collects every bus notification for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []agorabus.Event
}

func (r *eventRecorder) OnEvent(e agorabus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(name agorabus.EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(name agorabus.EventName) (agorabus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return agorabus.Event{}, false
}

// stubProvider counts lifecycle calls and exposes its inbound handler, for
// tests that need behavior the memory double does not model.
type stubProvider struct {
	id         string
	startCalls atomic.Int64
	readyCalls atomic.Int64
	stopCalls  atomic.Int64
	startErr   error
	notReady   bool
	sendErr    error
	sendPanic  bool
	failuresN  atomic.Int64 // Send fails while > 0, then succeeds

	mu      sync.Mutex
	handler agorabus.InboundHandler
	sent    []*agorabus.Message
}

var _ agorabus.Provider = (*stubProvider)(nil)

func (p *stubProvider) ID() string             { return p.id }
func (p *stubProvider) MessageTypes() []string { return nil }

func (p *stubProvider) OnMessage(h agorabus.InboundHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *stubProvider) Start(context.Context) error {
	p.startCalls.Add(1)
	return p.startErr
}

func (p *stubProvider) Stop(context.Context) error {
	p.stopCalls.Add(1)
	return nil
}

func (p *stubProvider) IsReady(context.Context) bool {
	p.readyCalls.Add(1)
	return !p.notReady
}

func (p *stubProvider) Send(_ context.Context, msg *agorabus.Message) error {
	if p.sendPanic {
		panic("stub send blew up")
	}
	if p.failuresN.Load() > 0 {
		p.failuresN.Add(-1)
		return errors.New("transient send failure")
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return nil
}

// fire drives the wired inbound handler directly, bypassing started checks.
func (p *stubProvider) fire(ctx context.Context, msg *agorabus.Message) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

func (p *stubProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// newBus builds a bus over the given providers with a recorder on every event.
func newBus(t *testing.T, providers ...agorabus.Provider) (*agorabus.Bus, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	bb := agorabus.NewBusBuilder().WithProvider(providers...)
	for _, name := range agorabus.EventNames() {
		bb.WithListener(name, rec)
	}
	bus, err := bb.Build()
	require.NoError(t, err)
	return bus, rec
}

func TestRegisterProvider_Duplicate(t *testing.T) {
	first := memory.New("dup")
	bus, _ := newBus(t, first)

	err := bus.RegisterProvider(memory.New("dup"))
	require.Error(t, err)
	var dup *agorabus.DuplicateProviderError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dup", dup.ID)

	// The first registration stays intact.
	got, ok := bus.Provider("dup")
	require.True(t, ok)
	assert.Same(t, agorabus.Provider(first), got)
}

func TestPublish_NotStarted(t *testing.T) {
	p := memory.New("a")
	bus, rec := newBus(t, p)

	err := bus.Publish(context.Background(), msg(t, "chat.msg", "", ""))
	require.ErrorIs(t, err, agorabus.ErrBusNotStarted)
	assert.Empty(t, p.Sent())
	assert.Equal(t, 0, rec.count(agorabus.EventMessageOutbound))
}

func TestStart_Idempotent(t *testing.T) {
	p := &stubProvider{id: "a"}
	bus, rec := newBus(t, p)
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Start(ctx))

	assert.True(t, bus.IsStarted())
	assert.Equal(t, int64(1), p.startCalls.Load())
	assert.Equal(t, int64(1), p.readyCalls.Load())
	assert.Equal(t, 1, rec.count(agorabus.EventBusStarted))
}

func TestStart_ProviderStartFailure(t *testing.T) {
	bad := &stubProvider{id: "bad", startErr: errors.New("boom")}
	good := &stubProvider{id: "good"}
	bus, rec := newBus(t, bad, good)

	err := bus.Start(context.Background())
	require.Error(t, err)
	assert.False(t, bus.IsStarted())
	assert.Equal(t, 0, rec.count(agorabus.EventBusStarted))

	// The sibling start was still invoked; no rollback is attempted.
	assert.Equal(t, int64(1), good.startCalls.Load())
	assert.Equal(t, int64(0), good.stopCalls.Load())
}

func TestStart_NotReady(t *testing.T) {
	notReady := &stubProvider{id: "cold", notReady: true}
	ready := &stubProvider{id: "warm"}
	bus, rec := newBus(t, notReady, ready)

	err := bus.Start(context.Background())
	require.Error(t, err)
	var nr *agorabus.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, []string{"cold"}, nr.IDs)

	// Bus stays stopped; started providers keep running (no rollback).
	assert.False(t, bus.IsStarted())
	assert.Equal(t, int64(1), ready.startCalls.Load())
	assert.Equal(t, int64(0), ready.stopCalls.Load())
	assert.Equal(t, 0, rec.count(agorabus.EventBusStarted))
}

func TestStop_Idempotent(t *testing.T) {
	p := &stubProvider{id: "a"}
	bus, rec := newBus(t, p)
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Stop(ctx))
	require.NoError(t, bus.Stop(ctx))

	assert.False(t, bus.IsStarted())
	assert.Equal(t, int64(1), p.stopCalls.Load())
	assert.Equal(t, 1, rec.count(agorabus.EventBusStopped))
}

func TestPublish_Broadcast(t *testing.T) {
	a := memory.New("a")
	b := memory.New("b")
	c := memory.New("c")
	bus, rec := newBus(t, a, b, c)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "a", "")))

	assert.Empty(t, a.Sent())
	assert.Len(t, b.Sent(), 1)
	assert.Len(t, c.Sent(), 1)
	assert.Equal(t, 1, rec.count(agorabus.EventMessageOutbound))
	assert.Equal(t, 2, rec.count(agorabus.EventMessageRouted))
	assert.Equal(t, 0, rec.count(agorabus.EventMessageError))
}

func TestPublish_DirectDelivery(t *testing.T) {
	x := memory.New("x")
	y := memory.New("y")
	z := memory.New("z")
	bus, rec := newBus(t, x, y, z)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "x", "y")))

	assert.Empty(t, x.Sent())
	assert.Len(t, y.Sent(), 1)
	assert.Empty(t, z.Sent())
	require.Equal(t, 1, rec.count(agorabus.EventMessageRouted))
	routed, ok := rec.last(agorabus.EventMessageRouted)
	require.True(t, ok)
	assert.Equal(t, "y", routed.ProviderID)
}

func TestPublish_Dropped(t *testing.T) {
	s := memory.New("s")
	bus, rec := newBus(t, s)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	// Only the source is registered: empty target set, not an error.
	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "s", "")))

	assert.Equal(t, 1, rec.count(agorabus.EventMessageDropped))
	assert.Equal(t, 0, rec.count(agorabus.EventMessageRouted))
	assert.Equal(t, 0, rec.count(agorabus.EventMessageError))
	dropped, ok := rec.last(agorabus.EventMessageDropped)
	require.True(t, ok)
	assert.Equal(t, agorabus.DropReasonNoTargets, dropped.Reason)
}

func TestPublish_LoopbackSuppressionScenario(t *testing.T) {
	lb := loopback.New(loopback.Config{})
	b := memory.New("b")
	bus, rec := newBus(t, lb, b)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)

	// B is source, loopback is suppressed for agora.*: dropped.
	require.NoError(t, bus.Publish(ctx, msg(t, "agora.update", "b", "")))

	assert.Equal(t, 1, rec.count(agorabus.EventMessageDropped))
	assert.Equal(t, 0, rec.count(agorabus.EventMessageRouted))
}

func TestPublish_FailureIsolation(t *testing.T) {
	good1 := memory.New("good1")
	bad := memory.New("bad", memory.WithSendError(errors.New("wire down")))
	good2 := memory.New("good2")
	bus, rec := newBus(t, good1, bad, good2)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	// One of three targets fails; publish still succeeds and the other two
	// deliveries go through.
	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "", "")))

	assert.Len(t, good1.Sent(), 1)
	assert.Len(t, good2.Sent(), 1)
	assert.Equal(t, 2, rec.count(agorabus.EventMessageRouted))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageError))

	failed, ok := rec.last(agorabus.EventMessageError)
	require.True(t, ok)
	assert.Equal(t, "bad", failed.ProviderID)
	assert.Error(t, failed.Err)
}

func TestPublish_SendPanicIsolated(t *testing.T) {
	angry := &stubProvider{id: "angry", sendPanic: true}
	calm := memory.New("calm")
	bus, rec := newBus(t, angry, calm)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "", "")))

	assert.Len(t, calm.Sent(), 1)
	assert.Equal(t, 1, rec.count(agorabus.EventMessageRouted))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageError))
}

func TestInbound_Republish(t *testing.T) {
	a := memory.New("a")
	b := memory.New("b")
	bus, rec := newBus(t, a, b)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, a.Inject(ctx, msg(t, "chat.msg", "a", "")))

	assert.Len(t, b.Sent(), 1)
	assert.Empty(t, a.Sent())
	assert.Equal(t, 1, rec.count(agorabus.EventMessageInbound))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageOutbound))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageRouted))
}

func TestInbound_AfterStopDowngraded(t *testing.T) {
	p := &stubProvider{id: "late"}
	bus, rec := newBus(t, p)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Stop(ctx))

	// Inbound arriving after stop must not propagate the publish failure
	// back into the transport loop; it becomes a message.error event.
	p.fire(ctx, msg(t, "chat.msg", "late", ""))

	assert.Equal(t, 1, rec.count(agorabus.EventMessageInbound))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageError))
	failed, _ := rec.last(agorabus.EventMessageError)
	assert.ErrorIs(t, failed.Err, agorabus.ErrBusNotStarted)
}

func TestListeners_SetSemantics(t *testing.T) {
	p := memory.New("a")
	target := memory.New("b")
	bus, _ := newBus(t, p, target)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	var fires atomic.Int64
	l := agorabus.ListenerFunc(func(agorabus.Event) { fires.Add(1) })
	bus.On(agorabus.EventMessageOutbound, &l)
	bus.On(agorabus.EventMessageOutbound, &l) // duplicate add is a no-op

	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "a", "")))
	assert.Equal(t, int64(1), fires.Load())

	bus.Off(agorabus.EventMessageOutbound, &l)
	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "a", "")))
	assert.Equal(t, int64(1), fires.Load())
}

func TestListeners_PanicSwallowed(t *testing.T) {
	p := memory.New("a")
	target := memory.New("b")
	bus, rec := newBus(t, p, target)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	angry := agorabus.ListenerFunc(func(agorabus.Event) { panic("listener tantrum") })
	bus.On(agorabus.EventMessageOutbound, &angry)

	// The panic is discarded; publish succeeds and other listeners still ran.
	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "a", "")))
	assert.Equal(t, 1, rec.count(agorabus.EventMessageOutbound))
}

func TestPublish_RetryMiddleware(t *testing.T) {
	flaky := &stubProvider{id: "flaky"}
	flaky.failuresN.Store(2)

	rec := &eventRecorder{}
	bb := agorabus.NewBusBuilder().
		WithProvider(flaky).
		WithSendMiddleware(agorabus.RetrySendMiddleware(agorabus.RetryConfig{MaxAttempts: 3}))
	for _, name := range agorabus.EventNames() {
		bb.WithListener(name, rec)
	}
	bus, err := bb.Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Publish(ctx, msg(t, "chat.msg", "", "")))

	assert.Equal(t, 1, flaky.sentCount())
	assert.Equal(t, 1, rec.count(agorabus.EventMessageRouted))
	assert.Equal(t, 0, rec.count(agorabus.EventMessageError))
}

func TestProviders_Snapshot(t *testing.T) {
	bus, _ := newBus(t, memory.New("a"), memory.New("b"))

	got := bus.Providers()
	assert.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, ids(got))
}
