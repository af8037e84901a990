// Package session implements the lifecycle state machine for one
// logical messaging connection and the registry that tracks all of
// them. Each session owns exactly one transport at a time and fans its
// state changes out through a Publisher.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firezap/firezap/internal/transport"
	"github.com/firezap/firezap/pkg/protocol"
)

// Publisher receives session lifecycle events for fan-out to
// subscribers. Implemented by the broadcast package.
type Publisher interface {
	PublishStatus(sessionID, status, detail string)
	PublishQR(sessionID, qr string)
	Forget(sessionID string)
}

// ReconnectPolicy is the bounded exponential backoff applied after a
// lost connection. Error and Exited states are never retried.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the stock policy: 1.5s base, 30s cap,
// five attempts before the session settles in Error.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   1500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

var (
	// ErrNotReady is returned for outbound sends while the session is
	// in any state other than ready.
	ErrNotReady = errors.New("session is not ready")
	// ErrSendUnsupported is returned when the transport cannot carry
	// outbound messages (supervised worker processes cannot).
	ErrSendUnsupported = errors.New("transport does not support outbound send")
)

// Session is the state machine for a single logical connection. All
// state writes happen either in the event loop goroutine or on control
// paths serialized by the session mutex; different sessions share
// nothing and never contend.
type Session struct {
	id       string
	credsDir string
	factory  transport.Factory
	pub      Publisher
	policy   ReconnectPolicy

	mu       sync.Mutex
	status   string
	detail   string
	qr       string
	tr       transport.Transport
	attempts int
	timer    *time.Timer
	closed   bool
}

func newSession(id, credsDir string, factory transport.Factory, pub Publisher, policy ReconnectPolicy) *Session {
	return &Session{
		id:       id,
		credsDir: credsDir,
		factory:  factory,
		pub:      pub,
		policy:   policy,
		status:   protocol.StatusStarting,
	}
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current status and its detail (last error or
// disconnect reason).
func (s *Session) Status() (status, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.detail
}

// QR returns the outstanding pairing artifact, or "" when none. The
// artifact is non-empty exactly while the status is awaiting_scan.
func (s *Session) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// SendText delivers outbound text through a ready session.
func (s *Session) SendText(ctx context.Context, to, text string) (string, error) {
	s.mu.Lock()
	status := s.status
	tr := s.tr
	s.mu.Unlock()

	if status != protocol.StatusReady {
		return "", fmt.Errorf("%w (status=%s)", ErrNotReady, status)
	}
	sender, ok := tr.(transport.Sender)
	if !ok {
		return "", ErrSendUnsupported
	}
	return sender.SendText(ctx, to, text)
}

// start constructs and starts the transport, then begins consuming its
// events. Called exactly once, by the registry that created the session.
func (s *Session) start(ctx context.Context) {
	s.pub.PublishStatus(s.id, protocol.StatusStarting, "")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	tr, err := s.factory(s.id, s.credsDir)
	if err != nil {
		s.fail("create transport: " + err.Error())
		return
	}
	if err := tr.Start(ctx); err != nil {
		tr.Stop()
		s.fail("start transport: " + err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tr.Stop()
		return
	}
	s.tr = tr
	s.mu.Unlock()

	go s.loop(tr)
}

// loop consumes transport events until the channel closes. It is the
// single writer for event-driven state transitions.
func (s *Session) loop(tr transport.Transport) {
	for ev := range tr.Events() {
		s.apply(tr, ev)
	}
}

// apply performs one state transition. Events from a transport the
// session no longer owns (replaced during reconnect, or stopped by
// teardown) are dropped.
func (s *Session) apply(tr transport.Transport, ev transport.Event) {
	s.mu.Lock()
	if s.closed || s.tr != tr {
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case transport.EventQR:
		s.status = protocol.StatusAwaitingScan
		s.qr = ev.Payload
		s.mu.Unlock()
		s.pub.PublishQR(s.id, ev.Payload)
		s.pub.PublishStatus(s.id, protocol.StatusAwaitingScan, "")

	case transport.EventQRRaw:
		s.mu.Unlock()
		slog.Debug("raw pairing payload issued", "session", s.id)

	case transport.EventAuthenticated:
		hadQR := s.qr != ""
		s.qr = ""
		s.status = protocol.StatusAuthenticated
		s.detail = ""
		s.mu.Unlock()
		if hadQR {
			s.pub.PublishQR(s.id, "")
		}
		s.pub.PublishStatus(s.id, protocol.StatusAuthenticated, "")

	case transport.EventReady:
		hadQR := s.qr != ""
		s.qr = ""
		s.status = protocol.StatusReady
		s.detail = ""
		s.attempts = 0
		s.mu.Unlock()
		if hadQR {
			s.pub.PublishQR(s.id, "")
		}
		s.pub.PublishStatus(s.id, protocol.StatusReady, "")

	case transport.EventDisconnected:
		s.status = protocol.StatusDisconnected
		s.qr = ""
		s.detail = ev.Detail
		exhausted := s.attempts >= s.policy.MaxAttempts
		var delay time.Duration
		if !exhausted {
			if s.timer != nil {
				s.timer.Stop()
			}
			delay = backoffDelay(s.policy.BaseDelay, s.policy.MaxDelay, s.attempts)
			s.attempts++
			s.timer = time.AfterFunc(delay, s.reconnect)
		}
		s.mu.Unlock()

		s.pub.PublishStatus(s.id, protocol.StatusDisconnected, ev.Detail)
		if exhausted {
			s.fail(fmt.Sprintf("reconnect attempts exhausted (%d)", s.policy.MaxAttempts))
			return
		}
		slog.Info("connection lost, reconnect scheduled",
			"session", s.id, "delay", delay, "attempt", s.attempts)

	case transport.EventError:
		s.status = protocol.StatusError
		s.qr = ""
		s.detail = ev.Detail
		s.mu.Unlock()
		s.pub.PublishStatus(s.id, protocol.StatusError, ev.Detail)
		slog.Warn("session error", "session", s.id, "detail", ev.Detail)

	case transport.EventExited:
		detail := fmt.Sprintf("exit code %d", ev.ExitCode)
		if ev.Signal != "" {
			detail = "signal " + ev.Signal
		}
		s.status = protocol.StatusExited
		s.qr = ""
		s.detail = detail
		s.mu.Unlock()
		s.pub.PublishStatus(s.id, protocol.StatusExited, detail)
		slog.Warn("worker process gone", "session", s.id, "detail", detail)

	default:
		s.mu.Unlock()
		slog.Debug("ignoring unknown transport event", "session", s.id, "kind", ev.Kind)
	}
}

// reconnect fires from the backoff timer: it fully tears down the old
// transport, then constructs and starts a replacement with the same id
// and credential path.
func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.tr
	s.tr = nil
	s.timer = nil
	s.status = protocol.StatusStarting
	s.qr = ""
	attempt := s.attempts
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	s.pub.PublishStatus(s.id, protocol.StatusStarting, fmt.Sprintf("reconnect attempt %d", attempt))

	tr, err := s.factory(s.id, s.credsDir)
	if err != nil {
		s.fail("create transport: " + err.Error())
		return
	}
	if err := tr.Start(context.Background()); err != nil {
		tr.Stop()
		s.fail("start transport: " + err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tr.Stop()
		return
	}
	s.tr = tr
	s.mu.Unlock()

	go s.loop(tr)
}

// fail moves the session to Error. Error is sticky: it requires an
// explicit remove (or re-ensure after remove) to leave.
func (s *Session) fail(detail string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = protocol.StatusError
	s.detail = detail
	s.qr = ""
	s.mu.Unlock()
	s.pub.PublishStatus(s.id, protocol.StatusError, detail)
	slog.Error("session failed", "session", s.id, "detail", detail)
}

// Teardown stops the transport and any pending reconnect timer, and
// publishes the final disconnected status. Safe to call at any point,
// including mid-reconnect-delay; idempotent.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	tr := s.tr
	s.tr = nil
	s.status = protocol.StatusDisconnected
	s.qr = ""
	s.detail = ""
	s.mu.Unlock()

	if tr != nil {
		tr.Stop()
	}
	s.pub.PublishStatus(s.id, protocol.StatusDisconnected, "")
}
