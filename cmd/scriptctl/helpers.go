package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snarg/scriptsync/internal/config"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/transcache"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// openProvider builds the configured provider behind the shared transcript
// cache. The returned func stops the storage background services and must
// be called once transcription is done.
func openProvider(ctx context.Context, cfg *config.Config, refresh bool, log zerolog.Logger) (transcribe.Provider, func(), error) {
	p, err := transcribe.NewProvider(ctx, cfg.Transcribe, log)
	if errors.Is(err, transcribe.ErrNoProvider) {
		return nil, nil, errors.New("TRANSCRIBE_PROVIDER is none; pass --transcript instead of --audio")
	}
	if err != nil {
		return nil, nil, err
	}

	objects, services, err := storage.New(cfg.S3, cfg.DataDir, log)
	if err != nil {
		return nil, nil, err
	}
	for _, svc := range services {
		svc.Start()
	}
	stop := func() {
		for _, svc := range services {
			svc.Stop()
		}
	}

	cached := transcache.Wrap(p, transcache.NewStoreCache(objects), transcache.Options{
		LockDir: filepath.Join(cfg.DataDir, "locks"),
		Refresh: refresh,
		Log:     log,
	})
	return cached, stop, nil
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
