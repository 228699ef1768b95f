package agorabus

import "context"

// InboundHandler receives one inbound message from a provider's transport.
// The bus wires it at registration time; a provider must not invoke it before
// its own Start has been called.
type InboundHandler func(ctx context.Context, msg *Message)

// Provider is the Strategy interface for transport endpoints. Concrete
// variants (in-memory double, session injection, outbound chat, relay) plug in
// at registration time; the bus never knows their internals.
//
// Start, Stop, IsReady and Send are all potentially blocking; the bus joins on
// them concurrently. Send must fail, not hang, when the provider has not been
// started.
type Provider interface {
	// ID returns the provider id, unique within one bus instance.
	ID() string
	// Start brings the transport up.
	Start(ctx context.Context) error
	// Stop tears the transport down.
	Stop(ctx context.Context) error
	// IsReady probes transport readiness after Start.
	IsReady(ctx context.Context) bool
	// Send delivers one message out through this provider's transport.
	Send(ctx context.Context, msg *Message) error
	// OnMessage registers the inbound callback. Called once, by the bus.
	OnMessage(h InboundHandler)
	// MessageTypes declares the handled type namespaces; empty means all.
	// Advisory for routing consumers, not enforced by the router.
	MessageTypes() []string
}
