package bots

import (
	"context"

	"github.com/antoniostano/botfleet/internal/store"
)

// Inbound is one user message normalized out of a platform event.
type Inbound struct {
	SenderID    string
	Username    string
	DisplayName string
	Text        string
	// FirstContact marks a /start-equivalent event; it is answered with the
	// agent's welcome message instead of a completion.
	FirstContact bool
}

// Sink accepts normalized inbound messages for a runtime's event loop.
type Sink func(in Inbound) error

// Transport is the mechanism by which a runtime receives platform events
// and delivers replies. Start opens the connection (registers a remote
// webhook, begins a poll loop, or launches an automation process) and must
// respect ctx for its background work; Stop tears everything down within
// the caller's deadline.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, senderID, text string) error
}

// WebhookFeeder is implemented by transports whose inbound events arrive as
// raw payloads through the shared dispatch gateway.
type WebhookFeeder interface {
	Feed(payload []byte) error
}

// TransportFactory builds the platform transport for one session, wiring
// inbound events into the given sink.
type TransportFactory func(sess store.Session, sink Sink) (Transport, error)
