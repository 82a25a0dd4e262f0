package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/config"
)

// ErrNotFound is returned by Open when the key exists in no backend.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts blob storage for uploaded scripts and audio, cached
// transcripts and rendered subtitles.
type ObjectStore interface {
	// Save stores data under key. Keys are slash-separated relative paths,
	// e.g. jobs/{id}/voiceover.wav or transcripts/{provider}/{hash}.json.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the object exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the object.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an ObjectStore based on config. Returns the store and optional
// background services (pruner, reconciler, uploader) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dataDir string, log zerolog.Logger) (ObjectStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dataDir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + S3 backup
	local := NewLocalStore(dataDir)
	uploader := NewAsyncUploader(s3store, 256, log)
	tiered := NewTieredStore(s3store, local, log).WithUploader(uploader)

	services := []BackgroundService{uploader}

	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		pruner := NewCachePruner(dataDir, cfg.CacheRetention, cfg.CacheMaxGB, s3store, log)
		services = append(services, pruner)
	}

	reconciler := NewUploadReconciler(dataDir, s3store, log)
	services = append(services, reconciler)

	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// ReadAll opens key and reads it fully.
func ReadAll(ctx context.Context, s ObjectStore, key string) ([]byte, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ContentTypeFromExt returns the MIME type for a stored object's extension.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt; charset=utf-8"
	case ".ass":
		return "text/x-ssa; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// ContentTypeForKey is ContentTypeFromExt applied to the key's extension.
func ContentTypeForKey(key string) string {
	return ContentTypeFromExt(filepath.Ext(key))
}

// isTempFile reports whether name is an in-flight LocalStore write.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".obj-") && strings.HasSuffix(name, ".tmp")
}
