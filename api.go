package agorabus

import "context"

// API is the complete consumer surface of the bus. Tools, handlers and other
// subsystems interact only through it.
type API interface {
	RegisterProvider(p Provider) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(ctx context.Context, msg *Message) error
	On(event EventName, l Listener)
	Off(event EventName, l Listener)
	Providers() []Provider
	IsStarted() bool
}
