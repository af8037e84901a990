// Package store manages the on-disk layout of per-session credential
// material. The contents of a session directory are opaque to the rest
// of the system: transports write whatever they need there, and teardown
// wipes the whole directory.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths resolves per-session credential directories under a data root.
type Paths struct {
	root string
}

// NewPaths creates a path resolver rooted at dataDir.
func NewPaths(dataDir string) *Paths {
	return &Paths{root: dataDir}
}

// SessionDir returns the credential directory for a session, creating it
// if necessary.
func (p *Paths) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(p.root, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Exists reports whether credential material exists for a session.
func (p *Paths) Exists(sessionID string) bool {
	_, err := os.Stat(filepath.Join(p.root, "sessions", sessionID))
	return err == nil
}

// Wipe recursively deletes a session's credential directory. Wiping a
// session that has no stored material is a no-op.
func (p *Paths) Wipe(sessionID string) error {
	dir := filepath.Join(p.root, "sessions", sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe session credentials: %w", err)
	}
	slog.Info("session credentials wiped", "session", sessionID, "dir", dir)
	return nil
}
