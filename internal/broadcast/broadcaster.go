// Package broadcast fans session lifecycle events out to per-session
// subscriber groups and keeps the latest status/QR snapshot for replay
// to late joiners.
package broadcast

import (
	"sync"

	"github.com/firezap/firezap/pkg/protocol"
)

// Subscriber receives event frames for sessions it has joined.
// Implementations must not block in SendEvent.
type Subscriber interface {
	ID() string
	SendEvent(protocol.EventFrame)
}

// snapshot is the latest observable state of one session.
type snapshot struct {
	status string
	detail string
	qr     string // empty when no artifact is outstanding
}

// Broadcaster delivers session events to subscriber groups keyed by
// session id. A session never knows its subscribers; membership is
// mutated only through Subscribe/Unsubscribe/DropSubscriber.
type Broadcaster struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
	snaps  map[string]*snapshot
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		groups: make(map[string]map[string]Subscriber),
		snaps:  make(map[string]*snapshot),
	}
}

// Subscribe joins sub to the session's group and immediately replays
// the current snapshot: the latest status and, if one is outstanding,
// the current QR artifact. A late joiner never has to wait for the
// next natural event to learn current state. Replay happens under the
// lock so no concurrent publish can be observed before the snapshot.
func (b *Broadcaster) Subscribe(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	group, ok := b.groups[sessionID]
	if !ok {
		group = make(map[string]Subscriber)
		b.groups[sessionID] = group
	}
	group[sub.ID()] = sub

	snap := b.snaps[sessionID]
	if snap == nil {
		return
	}
	sub.SendEvent(*protocol.NewEvent(protocol.EventSessionStatus, protocol.StatusPayload{
		SessionID: sessionID,
		Status:    snap.status,
		Detail:    snap.detail,
	}))
	if snap.qr != "" {
		qr := snap.qr
		sub.SendEvent(*protocol.NewEvent(protocol.EventSessionQR, protocol.QRPayload{
			SessionID: sessionID,
			QR:        &qr,
		}))
	}
}

// Unsubscribe removes sub from the session's group. Unknown membership
// is a no-op; session state is never affected.
func (b *Broadcaster) Unsubscribe(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if group, ok := b.groups[sessionID]; ok {
		delete(group, sub.ID())
		if len(group) == 0 {
			delete(b.groups, sessionID)
		}
	}
}

// DropSubscriber removes a subscriber from every group. Called when a
// gateway connection closes.
func (b *Broadcaster) DropSubscriber(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sessionID, group := range b.groups {
		delete(group, subID)
		if len(group) == 0 {
			delete(b.groups, sessionID)
		}
	}
}

// PublishStatus records the new status as the session snapshot and
// delivers it to the session's group. Any status other than
// awaiting_scan clears the snapshot's QR artifact: an artifact must
// never be observable outside that state.
func (b *Broadcaster) PublishStatus(sessionID, status, detail string) {
	b.mu.Lock()
	snap := b.ensureSnap(sessionID)
	snap.status = status
	snap.detail = detail
	if status != protocol.StatusAwaitingScan {
		snap.qr = ""
	}
	subs := b.groupMembers(sessionID)
	b.mu.Unlock()

	frame := *protocol.NewEvent(protocol.EventSessionStatus, protocol.StatusPayload{
		SessionID: sessionID,
		Status:    status,
		Detail:    detail,
	})
	for _, sub := range subs {
		sub.SendEvent(frame)
	}
}

// PublishQR records the artifact in the snapshot and delivers it to the
// group. An empty qr publishes an explicit null artifact, telling live
// subscribers to stop displaying a stale code.
func (b *Broadcaster) PublishQR(sessionID, qr string) {
	b.mu.Lock()
	snap := b.ensureSnap(sessionID)
	snap.qr = qr
	subs := b.groupMembers(sessionID)
	b.mu.Unlock()

	payload := protocol.QRPayload{SessionID: sessionID}
	if qr != "" {
		payload.QR = &qr
	}
	frame := *protocol.NewEvent(protocol.EventSessionQR, payload)
	for _, sub := range subs {
		sub.SendEvent(frame)
	}
}

// Forget drops the snapshot for a removed session. Subscriber groups
// are left alone: a subscriber may stay joined and will see fresh
// events if the session is ensured again.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snaps, sessionID)
}

// SubscriberCount returns the current total subscriber membership
// across all groups.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, group := range b.groups {
		n += len(group)
	}
	return n
}

// ensureSnap must be called with b.mu held.
func (b *Broadcaster) ensureSnap(sessionID string) *snapshot {
	snap, ok := b.snaps[sessionID]
	if !ok {
		snap = &snapshot{}
		b.snaps[sessionID] = snap
	}
	return snap
}

// groupMembers must be called with b.mu held. It copies the member set
// so delivery happens outside the lock in a stable order of no
// particular significance.
func (b *Broadcaster) groupMembers(sessionID string) []Subscriber {
	group := b.groups[sessionID]
	if len(group) == 0 {
		return nil
	}
	subs := make([]Subscriber, 0, len(group))
	for _, sub := range group {
		subs = append(subs, sub)
	}
	return subs
}
