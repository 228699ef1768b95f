package agorabus

import "time"

// EventName enumerates bus notification events.
type EventName string

const (
	EventBusStarted      EventName = "bus.started"
	EventBusStopped      EventName = "bus.stopped"
	EventMessageInbound  EventName = "message.inbound"
	EventMessageOutbound EventName = "message.outbound"
	EventMessageRouted   EventName = "message.routed"
	EventMessageError    EventName = "message.error"
	EventMessageDropped  EventName = "message.dropped"
)

// DropReasonNoTargets is the Reason carried by message.dropped when the
// router returns an empty target set.
const DropReasonNoTargets = "No target providers"

// Event carries one bus notification to listeners. Notifications are
// observability signals, distinct from errors: delivery problems surface here,
// never as Publish failures.
type Event struct {
	Name       EventName
	Message    *Message
	ProviderID string
	Reason     string
	Duration   time.Duration
	Err        error
}
