package agorabus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

// Message is the envelope traveling the bus. It is immutable once constructed:
// re-emission (e.g. loopback echo) builds a new value via WithSource, never
// mutates an existing one. ID and Timestamp are assigned exactly once, at
// construction.
type Message struct {
	// ID is a unique message identifier, assigned at construction.
	ID string
	// Type is the dot-namespaced event tag (e.g. "agora.inbound").
	Type string
	// Source is the provider id of origin, empty for externally injected messages.
	Source string
	// Destination is the provider id for direct delivery, empty for broadcast.
	Destination string
	// Payload is opaque to the bus; providers interpret it.
	Payload any
	// Meta is a bag for headers/session keys/tracing/etc.
	Meta map[string]string
	// Timestamp is the creation time (from the process clock).
	Timestamp time.Time
}

// Options describes caller-supplied fields for NewMessage.
type Options struct {
	Type        string
	Source      string
	Destination string
	Payload     any
	Meta        map[string]string
}

// NewMessage builds a Message, assigning a collision-resistant ID and the
// creation timestamp. Type is required.
func NewMessage(opts Options) (*Message, error) {
	if opts.Type == "" {
		return nil, fmt.Errorf("%w: type must not be empty", ErrInvalidMessage)
	}
	return &Message{
		ID:          uuid.NewString(),
		Type:        opts.Type,
		Source:      opts.Source,
		Destination: opts.Destination,
		Payload:     opts.Payload,
		Meta:        opts.Meta,
		Timestamp:   xclock.Default().Now(),
	}, nil
}

// WithSource returns a copy of the message with Source amended. ID, Timestamp
// and all the other fields carry over unchanged; Meta is shared and treated as
// read-only by convention.
func (m *Message) WithSource(source string) *Message {
	c := *m
	c.Source = source
	return &c
}
