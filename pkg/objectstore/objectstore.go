// Package objectstore is the object store adapter (component B): bucket
// creation and per-session directory upload/download/delete over an
// S3-compatible endpoint (spec.md §4.B, §6).
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

const (
	// BucketName is the single private bucket the whole gateway shares.
	BucketName = "whatsapp-sessions"
	// MaxFileSize is the per-file upload limit spec.md §6 mandates.
	MaxFileSize = 10 * 1024 * 1024
)

// Config carries the endpoint/credential pair spec.md §6 describes as
// "object-store URL and service key".
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to build client: %w", err)
	}
	return &Store{client: client}, nil
}

// EnsureBucket creates BucketName if it does not already exist. Called
// once at startup by the Reconciler (spec.md §4.K).
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, BucketName)
	if err != nil {
		return fmt.Errorf("objectstore: bucket check failed: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, BucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objectstore: bucket creation failed: %w", err)
	}
	return nil
}

// UploadTree walks localDir and uploads every file under
// "<sessionID>/<relative-path>", per-file upsert (spec.md §6).
func (s *Store) UploadTree(ctx context.Context, sessionID, localDir string) error {
	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.Size() > MaxFileSize {
			log.Warn().Str("session_id", sessionID).Str("path", path).Int64("size", info.Size()).
				Msg("skipping oversized auth file")
			return nil
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		key := sessionID + "/" + filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = s.client.PutObject(ctx, BucketName, key, f, info.Size(), minio.PutObjectOptions{})
		return err
	})
}

// DownloadTree lists everything under "<sessionID>/" and restores it into
// localDir. Absence of any objects is not an error — the caller treats it
// as "first-time auth required" (spec.md §4.E).
func (s *Store) DownloadTree(ctx context.Context, sessionID, localDir string) (found bool, err error) {
	prefix := sessionID + "/"
	objectCh := s.client.ListObjects(ctx, BucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for obj := range objectCh {
		if obj.Err != nil {
			return found, fmt.Errorf("objectstore: list failed: %w", obj.Err)
		}
		found = true

		rel := strings.TrimPrefix(obj.Key, prefix)
		destPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return found, err
		}

		object, err := s.client.GetObject(ctx, BucketName, obj.Key, minio.GetObjectOptions{})
		if err != nil {
			return found, fmt.Errorf("objectstore: get failed: %w", err)
		}

		destFile, err := os.Create(destPath)
		if err != nil {
			object.Close()
			return found, err
		}

		_, copyErr := io.Copy(destFile, object)
		destFile.Close()
		object.Close()
		if copyErr != nil {
			return found, copyErr
		}
	}
	return found, nil
}

// DeleteTree removes every object under "<sessionID>/", used when a
// session is explicitly disconnected (spec.md §4.E).
func (s *Store) DeleteTree(ctx context.Context, sessionID string) error {
	prefix := sessionID + "/"
	objectCh := s.client.ListObjects(ctx, BucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	removeCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(removeCh)
		for obj := range objectCh {
			if obj.Err == nil {
				removeCh <- obj
			}
		}
	}()

	for errResult := range s.client.RemoveObjects(ctx, BucketName, removeCh, minio.RemoveObjectsOptions{}) {
		if errResult.Err != nil {
			return fmt.Errorf("objectstore: delete failed: %w", errResult.Err)
		}
	}
	return nil
}
