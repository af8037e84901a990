package protocol

// WebSocket event names pushed from server to client.
const (
	EventSessionStatus = "session.status"
	EventSessionQR     = "session.qr"
	EventShutdown      = "shutdown"
)

// WebSocket RPC method names.
const (
	MethodConnect     = "connect"
	MethodHealth      = "health"
	MethodStatus      = "status"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// Session status values carried in StatusPayload.Status and in the
// REST control surface.
const (
	StatusStarting      = "starting"
	StatusAwaitingScan  = "awaiting_scan"
	StatusAuthenticated = "authenticated"
	StatusReady         = "ready"
	StatusDisconnected  = "disconnected"
	StatusError         = "error"
	StatusExited        = "exited"
)

// StatusPayload is the payload of a session.status event.
type StatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// QRPayload is the payload of a session.qr event. QR is a PNG data URL,
// or null once the artifact has been consumed.
type QRPayload struct {
	SessionID string  `json:"sessionId"`
	QR        *string `json:"qr"`
}
