package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionDirLifecycle(t *testing.T) {
	p := NewPaths(t.TempDir())

	dir, err := p.SessionDir("alice")
	if err != nil {
		t.Fatalf("SessionDir: %v", err)
	}
	if !p.Exists("alice") {
		t.Fatal("Exists must report the created directory")
	}

	// Transports write opaque state here; Wipe must take it all.
	if err := os.WriteFile(filepath.Join(dir, "device.db"), []byte("creds"), 0600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	if err := p.Wipe("alice"); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if p.Exists("alice") {
		t.Fatal("Exists must report false after Wipe")
	}
}

func TestWipeUnknownIsNoop(t *testing.T) {
	p := NewPaths(t.TempDir())
	if err := p.Wipe("ghost"); err != nil {
		t.Fatalf("Wipe of unknown session: %v", err)
	}
}
