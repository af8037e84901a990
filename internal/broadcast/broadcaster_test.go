package broadcast

import (
	"sync"
	"testing"

	"github.com/firezap/firezap/pkg/protocol"
)

type recordingSub struct {
	id string

	mu     sync.Mutex
	frames []protocol.EventFrame
}

func newSub(id string) *recordingSub { return &recordingSub{id: id} }

func (s *recordingSub) ID() string { return s.id }

func (s *recordingSub) SendEvent(frame protocol.EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *recordingSub) recorded() []protocol.EventFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.EventFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

func statusOf(t *testing.T, frame protocol.EventFrame) protocol.StatusPayload {
	t.Helper()
	p, ok := frame.Payload.(protocol.StatusPayload)
	if !ok {
		t.Fatalf("frame %+v does not carry a status payload", frame)
	}
	return p
}

func qrOf(t *testing.T, frame protocol.EventFrame) protocol.QRPayload {
	t.Helper()
	p, ok := frame.Payload.(protocol.QRPayload)
	if !ok {
		t.Fatalf("frame %+v does not carry a qr payload", frame)
	}
	return p
}

func TestSubscribeReplaysSnapshot(t *testing.T) {
	b := New()
	b.PublishStatus("alice", protocol.StatusReady, "")

	sub := newSub("c1")
	b.Subscribe("alice", sub)

	frames := sub.recorded()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 snapshot status", len(frames))
	}
	if frames[0].Event != protocol.EventSessionStatus {
		t.Fatalf("frame event = %q, want %q", frames[0].Event, protocol.EventSessionStatus)
	}
	if p := statusOf(t, frames[0]); p.Status != protocol.StatusReady || p.SessionID != "alice" {
		t.Fatalf("snapshot payload = %+v", p)
	}
}

func TestSnapshotIncludesOutstandingQR(t *testing.T) {
	b := New()
	b.PublishQR("alice", "data:image/png;base64,abc")
	b.PublishStatus("alice", protocol.StatusAwaitingScan, "")

	sub := newSub("c1")
	b.Subscribe("alice", sub)

	frames := sub.recorded()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want status then qr", len(frames))
	}
	if p := statusOf(t, frames[0]); p.Status != protocol.StatusAwaitingScan {
		t.Fatalf("first frame = %+v, want awaiting_scan", p)
	}
	qr := qrOf(t, frames[1])
	if qr.QR == nil || *qr.QR != "data:image/png;base64,abc" {
		t.Fatalf("second frame = %+v, want the outstanding artifact", qr)
	}
}

func TestNonAwaitingStatusClearsSnapshotQR(t *testing.T) {
	b := New()
	b.PublishQR("alice", "data:image/png;base64,abc")
	b.PublishStatus("alice", protocol.StatusAwaitingScan, "")
	b.PublishStatus("alice", protocol.StatusReady, "")

	sub := newSub("c1")
	b.Subscribe("alice", sub)

	frames := sub.recorded()
	if len(frames) != 1 {
		t.Fatalf("got %d frames %+v, want only the ready status", len(frames), frames)
	}
	if p := statusOf(t, frames[0]); p.Status != protocol.StatusReady {
		t.Fatalf("snapshot status = %+v, want ready", p)
	}
}

func TestLiveDelivery(t *testing.T) {
	b := New()
	sub := newSub("c1")
	b.Subscribe("alice", sub)

	b.PublishStatus("alice", protocol.StatusStarting, "")
	b.PublishQR("alice", "data:image/png;base64,abc")
	b.PublishStatus("alice", protocol.StatusAwaitingScan, "")
	b.PublishStatus("bob", protocol.StatusStarting, "") // different group

	frames := sub.recorded()
	if len(frames) != 3 {
		t.Fatalf("got %d frames %+v, want 3 for the joined session only", len(frames), frames)
	}
	if frames[0].Event != protocol.EventSessionStatus ||
		frames[1].Event != protocol.EventSessionQR ||
		frames[2].Event != protocol.EventSessionStatus {
		t.Fatalf("frames out of order: %+v", frames)
	}
}

func TestPublishQREmptyIsExplicitNull(t *testing.T) {
	b := New()
	sub := newSub("c1")
	b.Subscribe("alice", sub)

	b.PublishQR("alice", "")

	frames := sub.recorded()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if qr := qrOf(t, frames[0]); qr.QR != nil {
		t.Fatalf("qr payload = %+v, want explicit null", qr)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := newSub("c1")
	b.Subscribe("alice", sub)
	b.Unsubscribe("alice", sub)

	b.PublishStatus("alice", protocol.StatusReady, "")
	if n := len(sub.recorded()); n != 0 {
		t.Fatalf("got %d frames after unsubscribe, want 0", n)
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestDropSubscriberLeavesAllGroups(t *testing.T) {
	b := New()
	sub := newSub("c1")
	other := newSub("c2")
	b.Subscribe("alice", sub)
	b.Subscribe("bob", sub)
	b.Subscribe("alice", other)

	b.DropSubscriber("c1")

	b.PublishStatus("alice", protocol.StatusReady, "")
	b.PublishStatus("bob", protocol.StatusReady, "")
	if n := len(sub.recorded()); n != 0 {
		t.Fatalf("dropped subscriber got %d frames, want 0", n)
	}
	if n := len(other.recorded()); n != 1 {
		t.Fatalf("remaining subscriber got %d frames, want 1", n)
	}
}

func TestForgetDropsSnapshot(t *testing.T) {
	b := New()
	b.PublishStatus("alice", protocol.StatusReady, "")
	b.Forget("alice")

	sub := newSub("c1")
	b.Subscribe("alice", sub)
	if n := len(sub.recorded()); n != 0 {
		t.Fatalf("got %d frames after Forget, want no snapshot replay", n)
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	b.Subscribe("alice", newSub("c1"))
	b.Subscribe("alice", newSub("c2"))
	b.Subscribe("bob", newSub("c1"))
	if b.SubscriberCount() != 3 {
		t.Fatalf("SubscriberCount() = %d, want 3", b.SubscriberCount())
	}
}
