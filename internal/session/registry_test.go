package session

import (
	"context"
	"sync"
	"testing"

	"github.com/firezap/firezap/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeFactory, *fakePublisher, *store.Paths) {
	t.Helper()
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	paths := store.NewPaths(t.TempDir())
	r := NewRegistry(factory.new, pub, paths, fastPolicy())
	t.Cleanup(r.Close)
	return r, factory, pub, paths
}

func TestEnsureCreatesOnce(t *testing.T) {
	r, factory, _, paths := newTestRegistry(t)

	s1, err := r.Ensure(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	s2, err := r.Ensure(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s1 != s2 {
		t.Fatal("Ensure must return the same session for the same id")
	}
	if factory.count() != 1 {
		t.Fatalf("factory called %d times, want 1", factory.count())
	}
	if !paths.Exists("alice") {
		t.Fatal("Ensure must create the credential directory")
	}
}

func TestEnsureConcurrent(t *testing.T) {
	r, factory, _, _ := newTestRegistry(t)

	const n = 16
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := r.Ensure(context.Background(), "alice")
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent Ensure calls must observe the same session")
		}
	}
	if factory.count() != 1 {
		t.Fatalf("factory called %d times under concurrent Ensure, want 1", factory.count())
	}
}

func TestRemoveWipesCredentials(t *testing.T) {
	r, factory, pub, paths := newTestRegistry(t)

	if _, err := r.Ensure(context.Background(), "alice"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	tr := factory.transportAt(t, 0)

	if err := r.Remove("alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("alice"); ok {
		t.Fatal("session still registered after Remove")
	}
	if !tr.isStopped() {
		t.Fatal("Remove must stop the transport")
	}
	if paths.Exists("alice") {
		t.Fatal("Remove must wipe the credential directory")
	}

	forgotten := false
	for _, ev := range pub.recorded() {
		if ev.kind == "forget" {
			forgotten = true
		}
	}
	if !forgotten {
		t.Fatal("Remove must drop the published snapshot")
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	if err := r.Remove("ghost"); err != nil {
		t.Fatalf("Remove of unknown id: %v, want nil", err)
	}
}

func TestClosePreservesCredentials(t *testing.T) {
	r, factory, _, paths := newTestRegistry(t)

	if _, err := r.Ensure(context.Background(), "alice"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	tr := factory.transportAt(t, 0)

	r.Close()
	if !tr.isStopped() {
		t.Fatal("Close must stop the transport")
	}
	if !paths.Exists("alice") {
		t.Fatal("Close must keep credentials for the next server start")
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after Close, want 0", r.Count())
	}
}

func TestListAndCount(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	for _, id := range []string{"alice", "bob"} {
		if _, err := r.Ensure(context.Background(), id); err != nil {
			t.Fatalf("Ensure(%s): %v", id, err)
		}
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	seen := make(map[string]bool)
	for _, id := range r.List() {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("List() = %v, want both sessions", r.List())
	}
}
