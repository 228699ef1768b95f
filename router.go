package agorabus

import "strings"

const (
	// ReservedLoopbackID is the provider id of the local echo provider.
	ReservedLoopbackID = "loopback"

	// RelayTypePrefix is the type namespace of relay-originated traffic.
	RelayTypePrefix = "agora."
)

// Router is the Strategy deciding which providers receive a message. Route
// must be a pure function of its inputs: no state, no side effects, safe to
// call concurrently. No ordering guarantee is made on the returned set.
type Router interface {
	Route(msg *Message, providers []Provider) []Provider
}

// DefaultRouter implements the stock routing policy:
//
//  1. Direct delivery: a set Destination selects exactly the matching
//     provider, even when it equals the message Source. No match means the
//     message is dropped, which is a normal outcome, not an error.
//  2. Broadcast: every provider except the Source. The loopback provider is
//     additionally suppressed for relay-originated ("agora.") types so relay
//     traffic is never echoed back out twice. The suppression applies to
//     broadcast only, never to direct delivery.
type DefaultRouter struct{}

var _ Router = DefaultRouter{}

func (DefaultRouter) Route(msg *Message, providers []Provider) []Provider {
	if msg.Destination != "" {
		for _, p := range providers {
			if p.ID() == msg.Destination {
				return []Provider{p}
			}
		}
		return nil
	}

	targets := make([]Provider, 0, len(providers))
	for _, p := range providers {
		id := p.ID()
		if msg.Source != "" && id == msg.Source {
			continue
		}
		if id == ReservedLoopbackID && strings.HasPrefix(msg.Type, RelayTypePrefix) {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}
