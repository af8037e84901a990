package transport

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/firezap/firezap/internal/qr"
)

// WhatsApp is the in-process transport variant backed by whatsmeow.
// Each session gets its own sqlite device store inside its credential
// directory, so a credential wipe removes the device identity too.
type WhatsApp struct {
	sessionID string
	credsDir  string
	renderer  *qr.Renderer
	events    chan Event

	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	cancel    context.CancelFunc
	stopped   bool
}

// NewWhatsApp creates a whatsmeow-backed transport for a session.
func NewWhatsApp(sessionID, credsDir string, renderer *qr.Renderer) *WhatsApp {
	return &WhatsApp{
		sessionID: sessionID,
		credsDir:  credsDir,
		renderer:  renderer,
		events:    make(chan Event, 32),
	}
}

// Events returns the lifecycle event stream.
func (w *WhatsApp) Events() <-chan Event { return w.events }

// Start opens the device store and connects the client. For a device
// that has never paired, the QR channel is attached before connecting
// so no pairing code is missed.
func (w *WhatsApp) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("transport already stopped")
	}
	if w.client != nil {
		return fmt.Errorf("transport already started")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)",
		filepath.Join(w.credsDir, "device.db"))
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(w.handleEvent)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if client.Store.ID == nil {
		// Not yet paired: QR channel must be requested before Connect.
		qrChan, err := client.GetQRChannel(runCtx)
		if err != nil {
			cancel()
			container.Close()
			return fmt.Errorf("qr channel: %w", err)
		}
		go w.qrLoop(qrChan)
	}

	if err := client.Connect(); err != nil {
		cancel()
		container.Close()
		return fmt.Errorf("connect: %w", err)
	}

	w.client = client
	w.container = container
	w.cancel = cancel
	return nil
}

// Stop disconnects the client and closes the device store. Idempotent.
func (w *WhatsApp) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.RemoveEventHandlers()
		w.client.Disconnect()
	}
	if w.container != nil {
		w.container.Close()
	}
	close(w.events)
}

// SendText delivers a text message. The recipient may be a bare phone
// number or a full JID.
func (w *WhatsApp) SendText(ctx context.Context, to, text string) (string, error) {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()

	if client == nil {
		return "", fmt.Errorf("transport not started")
	}

	jid, err := toJID(to)
	if err != nil {
		return "", err
	}

	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return string(resp.ID), nil
}

func (w *WhatsApp) qrLoop(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			w.emit(Event{Kind: EventQRRaw, Payload: item.Code})
			url, err := w.renderer.DataURL(item.Code)
			if err != nil {
				slog.Error("qr render failed", "session", w.sessionID, "error", err)
				continue
			}
			w.emit(Event{Kind: EventQR, Payload: url})
		case "success":
			// PairSuccess arrives via the event handler.
		case "timeout":
			w.emit(Event{Kind: EventError, Detail: "pairing timed out"})
		default:
			slog.Debug("unhandled qr channel item", "session", w.sessionID, "event", item.Event)
		}
	}
}

func (w *WhatsApp) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		w.emit(Event{Kind: EventAuthenticated})
	case *events.Connected:
		w.emit(Event{Kind: EventReady})
	case *events.Disconnected:
		w.emit(Event{Kind: EventDisconnected})
	case *events.LoggedOut:
		w.emit(Event{Kind: EventError, Detail: fmt.Sprintf("logged out: %v", e.Reason)})
	case *events.StreamReplaced:
		w.emit(Event{Kind: EventError, Detail: "stream replaced by another client"})
	}
}

// emit delivers an event unless the transport has been stopped. The
// send happens under the mutex so Stop cannot close the channel while
// a send is in flight.
func (w *WhatsApp) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- ev:
	default:
		slog.Warn("transport event buffer full, dropping", "session", w.sessionID, "kind", ev.Kind)
	}
}

func toJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("parse jid %q: %w", to, err)
		}
		return jid, nil
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return types.JID{}, fmt.Errorf("recipient %q has no digits", to)
	}
	return types.NewJID(digits.String(), types.DefaultUserServer), nil
}
