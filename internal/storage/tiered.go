package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// TieredStore combines local disk (source of truth) with a remote store
// (backup/durability, normally S3).
// Write path: save locally first (never block on the remote), then push.
// Read path: local first, remote fallback with cache-on-read.
type TieredStore struct {
	remote   ObjectStore
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + remote-backup store.
func NewTieredStore(remote ObjectStore, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote: remote,
		local:  local,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// WithUploader routes remote writes through u instead of writing inline.
func (s *TieredStore) WithUploader(u *AsyncUploader) *TieredStore {
	s.uploader = u
	return s
}

// Save writes to local disk first (fatal on failure), then the remote
// (warning on failure; the upload reconciler retries).
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.local.Save(ctx, key, data, ct); err != nil {
		return err
	}
	if s.uploader != nil {
		s.uploader.Enqueue(key, data, ct)
		return nil
	}
	if err := s.remote.Save(ctx, key, data, ct); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remote backup write failed, reconciler will retry")
	}
	return nil
}

func (s *TieredStore) LocalPath(key string) string {
	return s.local.LocalPath(key)
}

func (s *TieredStore) URL(ctx context.Context, key string) (string, error) {
	return s.remote.URL(ctx, key)
}

// Open checks local disk first, then falls back to the remote. On a remote
// hit, the object is cached locally for future reads.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	// Best-effort local cache write
	if cacheErr := s.local.Save(ctx, key, data, ""); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache remote object locally")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	if s.local.Exists(ctx, key) {
		return true
	}
	return s.remote.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }

// Remote returns the backing remote store.
func (s *TieredStore) Remote() ObjectStore { return s.remote }
