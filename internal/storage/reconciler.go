package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local cache for recent files missing from the
// remote store and re-uploads them. Handles dropped async uploads and crash
// recovery.
type UploadReconciler struct {
	cacheDir   string
	remote     ObjectStore
	interval   time.Duration
	window     time.Duration
	firstDelay time.Duration
	log        zerolog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing uploads.
func NewUploadReconciler(cacheDir string, remote ObjectStore, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		cacheDir:   cacheDir,
		remote:     remote,
		interval:   5 * time.Minute,
		window:     24 * time.Hour,
		firstDelay: 2 * time.Minute,
		log:        log.With().Str("component", "upload-reconciler").Logger(),
		stop:       make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(r.firstDelay):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile uploads every file modified within the window that the remote
// does not have. It returns the number of uploaded and failed files.
func (r *UploadReconciler) reconcile() (uploaded, failed int) {
	var checked int
	cutoff := time.Now().Add(-r.window)

	filepath.WalkDir(r.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(r.cacheDir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		checked++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.remote.Exists(ctx, key)
		cancel()
		if exists {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if saveErr := r.remote.Save(ctx, key, data, ContentTypeForKey(key)); saveErr != nil {
			r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		return nil
	})

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded, failed
}
