// Package transport normalizes the two session transport variants — an
// in-process WhatsApp client and a supervised external worker process —
// into one lifecycle event vocabulary. The session state machine only
// ever sees Events, never raw callbacks or process output.
package transport

import "context"

// EventKind identifies a lifecycle event emitted by a transport.
type EventKind string

const (
	// EventQR carries a freshly issued pairing artifact as a PNG data URL.
	EventQR EventKind = "qr"
	// EventQRRaw carries the raw pairing payload. Informational only.
	EventQRRaw EventKind = "qr_raw"
	// EventAuthenticated means the device confirmed the pairing.
	EventAuthenticated EventKind = "authenticated"
	// EventReady means the connection is fully operational.
	EventReady EventKind = "ready"
	// EventDisconnected means the connection was lost.
	EventDisconnected EventKind = "disconnected"
	// EventError means an unrecoverable local fault (e.g. auth rejected).
	EventError EventKind = "error"
	// EventExited means a supervised worker process terminated.
	EventExited EventKind = "exited"
)

// Event is a normalized transport lifecycle event.
type Event struct {
	Kind     EventKind
	Payload  string // QR data URL or raw pairing payload
	Detail   string // disconnect reason or error message
	ExitCode int    // EventExited only
	Signal   string // EventExited only, empty unless killed by signal
}

// Transport drives one underlying connection. Events are delivered on
// the channel returned by Events, in emission order. The channel is
// closed when the transport is stopped or its backing resource dies.
type Transport interface {
	// Start brings the transport up. It must be called at most once.
	Start(ctx context.Context) error
	// Stop tears the transport down, releasing all resources. Stop is
	// idempotent and safe to call on a transport that never started.
	Stop()
	// Events returns the lifecycle event stream.
	Events() <-chan Event
}

// Sender is implemented by transports that can deliver outbound text.
type Sender interface {
	SendText(ctx context.Context, to, text string) (string, error)
}

// Factory constructs a transport for a session. The credential
// directory is owned by the session and wiped on teardown.
type Factory func(sessionID, credsDir string) (Transport, error)
