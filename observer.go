package agorabus

import (
	"github.com/trickstertwo/xlog"
)

// Listener receives bus notification events. Dispatch is synchronous, so
// implementations should be fast and must not block.
//
// Listeners are stored per event name in a set keyed by interface identity:
// registering the same listener twice is a no-op, and Off removes by the same
// identity. Listener values must therefore be comparable; plain funcs are
// registered through a *ListenerFunc.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc is an Adapter that lets a plain function satisfy Listener.
// Register its pointer so the set has a stable identity to match on.
type ListenerFunc func(e Event)

func (f *ListenerFunc) OnEvent(e Event) { (*f)(e) }

// LoggingListener is an Adapter that emits bus events via xlog.
type LoggingListener struct {
	Logger *xlog.Logger
}

func (o LoggingListener) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("event", string(e.Name)),
		xlog.Str("provider_id", e.ProviderID),
	)
	if e.Message != nil {
		ev = ev.With(
			xlog.Str("message_id", e.Message.ID),
			xlog.Str("message_type", e.Message.Type),
		)
	}
	if e.Reason != "" {
		ev = ev.With(xlog.Str("reason", e.Reason))
	}
	switch e.Name {
	case EventMessageError:
		ev.Warn().Err(e.Err).Msg("agorabus event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("agorabus event")
	}
}

// EventNames lists every notification event, in declaration order. Handy for
// attaching one listener to the full set.
func EventNames() []EventName {
	return []EventName{
		EventBusStarted,
		EventBusStopped,
		EventMessageInbound,
		EventMessageOutbound,
		EventMessageRouted,
		EventMessageError,
		EventMessageDropped,
	}
}
