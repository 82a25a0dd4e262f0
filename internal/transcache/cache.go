// Package transcache persists transcription results keyed by audio content
// so the same recording is only sent to a provider once.
package transcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// Key identifies one cached transcription.
type Key struct {
	AudioHash string // sha256 of the audio bytes, hex
	Provider  string
	Model     string
	Language  string
}

// Digest folds every key field into one hex sha256.
func (k Key) Digest() string {
	h := sha256.New()
	for _, part := range []string{k.AudioHash, k.Provider, k.Model, strings.ToLower(k.Language)} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ObjectKey is the storage key: transcripts/<provider>/<digest>.json.
func (k Key) ObjectKey() string {
	provider := k.Provider
	if provider == "" {
		provider = "unknown"
	}
	return "transcripts/" + provider + "/" + k.Digest() + ".json"
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// KeyFor builds the key for an audio file transcribed by p with opts.
func KeyFor(audioPath string, p transcribe.Provider, opts transcribe.Options) (Key, error) {
	hash, err := HashFile(audioPath)
	if err != nil {
		return Key{}, err
	}
	return Key{AudioHash: hash, Provider: p.Name(), Model: p.Model(), Language: opts.Language}, nil
}

// Cache stores transcription responses.
type Cache interface {
	Get(ctx context.Context, key Key) (*transcribe.Response, bool, error)
	Put(ctx context.Context, key Key, resp *transcribe.Response) error
}

// StoreCache keeps responses as JSON objects in an ObjectStore.
type StoreCache struct {
	store storage.ObjectStore
}

// NewStoreCache creates a cache backed by store.
func NewStoreCache(store storage.ObjectStore) *StoreCache {
	return &StoreCache{store: store}
}

func (c *StoreCache) Get(ctx context.Context, key Key) (*transcribe.Response, bool, error) {
	data, err := storage.ReadAll(ctx, c.store, key.ObjectKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached transcript: %w", err)
	}
	resp, err := transcribe.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("cached transcript %s: %w", key.ObjectKey(), err)
	}
	return resp, true, nil
}

func (c *StoreCache) Put(ctx context.Context, key Key, resp *transcribe.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.store.Save(ctx, key.ObjectKey(), data, "application/json")
}
