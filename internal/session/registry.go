package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/firezap/firezap/internal/store"
	"github.com/firezap/firezap/internal/transport"
)

// Registry is the concurrency-safe map of all live sessions. It is an
// explicitly constructed object: tests build as many independent
// registries as they like.
type Registry struct {
	factory transport.Factory
	pub     Publisher
	paths   *store.Paths

	mu       sync.RWMutex
	sessions map[string]*Session
	policy   ReconnectPolicy
}

// NewRegistry creates an empty registry.
func NewRegistry(factory transport.Factory, pub Publisher, paths *store.Paths, policy ReconnectPolicy) *Registry {
	return &Registry{
		factory:  factory,
		pub:      pub,
		paths:    paths,
		sessions: make(map[string]*Session),
		policy:   policy,
	}
}

// Ensure returns the session for id, creating and starting it on first
// request. Concurrent calls with the same id construct at most one
// session: the map insert happens under the write lock, and only the
// goroutine that inserted starts the transport. A session whose
// transport failed to start stays registered in Error state.
func (r *Registry) Ensure(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	dir, err := r.paths.SessionDir(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	s = newSession(id, dir, r.factory, r.pub, r.policy)
	r.sessions[id] = s
	r.mu.Unlock()

	slog.Info("session created", "session", id)
	s.start(ctx)
	return s, nil
}

// Get is a non-creating lookup.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all currently known session ids, in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Remove tears the session down, wipes its credential material, and
// deletes the entry. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	s.Teardown()
	if err := r.paths.Wipe(id); err != nil {
		return err
	}
	r.pub.Forget(id)
	slog.Info("session removed", "session", id)
	return nil
}

// UpdatePolicy changes the reconnect policy applied to sessions created
// from now on. Existing sessions keep the policy they were built with.
func (r *Registry) UpdatePolicy(policy ReconnectPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Close stops every session's transport without wiping credentials.
// Used on server shutdown so sessions resume on the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
}
