// Package sessionstorage backs up, restores and deletes a session's auth
// directory between local filesystem and the object store (component C,
// spec.md §4).
package sessionstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crm/pkg/objectstore"
)

type Service struct {
	store   *objectstore.Store
	baseDir string
}

func NewService(store *objectstore.Store, baseDir string) *Service {
	return &Service{store: store, baseDir: baseDir}
}

// AuthDir returns the local path a session's browser worker treats as its
// persistent identity.
func (s *Service) AuthDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Restore fetches the session's tree from object storage into its local
// auth directory. Absence is not an error: it means first-time auth is
// required, so callers key off the returned bool rather than a nil error.
func (s *Service) Restore(ctx context.Context, sessionID string) (found bool, err error) {
	dir := s.AuthDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("sessionstorage: mkdir failed: %w", err)
	}
	return s.store.DownloadTree(ctx, sessionID, dir)
}

// Backup mirrors the local auth directory up to object storage. Callers
// treat failures as non-fatal (spec.md §4.E "On authenticated").
func (s *Service) Backup(ctx context.Context, sessionID string) error {
	dir := s.AuthDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return s.store.UploadTree(ctx, sessionID, dir)
}

// Delete removes both the object-store tree and the local auth directory.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteTree(ctx, sessionID); err != nil {
		return err
	}
	return os.RemoveAll(s.AuthDir(sessionID))
}
