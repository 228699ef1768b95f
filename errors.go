package agorabus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMessage reports malformed construction input. Fatal to the
	// call, never to the bus.
	ErrInvalidMessage = errors.New("agorabus: invalid message")

	// ErrBusNotStarted reports a Publish precondition violation.
	ErrBusNotStarted = errors.New("agorabus: bus not started")
)

// DuplicateProviderError reports a registration-time provider id collision.
type DuplicateProviderError struct{ ID string }

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("agorabus: duplicate provider id %q", e.ID)
}

// NotReadyError reports providers that failed the readiness probe during
// Start. The bus stays stopped; providers already started keep running.
type NotReadyError struct{ IDs []string }

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("agorabus: providers not ready: %s", strings.Join(e.IDs, ", "))
}

// UnknownProviderError reports a factory lookup miss in the provider registry.
type UnknownProviderError struct{ Name string }

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("agorabus: unknown provider: %s", e.Name)
}
