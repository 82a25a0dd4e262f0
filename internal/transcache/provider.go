package transcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/metrics"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// Options configures a CachingProvider.
type Options struct {
	// LockDir holds per-key lock files. Empty disables cross-process locking.
	LockDir string
	// Refresh forces a new transcription even on a cache hit; the result
	// still replaces the cached entry.
	Refresh bool
	Log     zerolog.Logger
}

// CachingProvider wraps a Provider with a Cache. It implements
// transcribe.Provider so callers cannot tell the difference.
type CachingProvider struct {
	next  transcribe.Provider
	cache Cache
	opts  Options
	log   zerolog.Logger
}

// Wrap returns p with caching in front of it.
func Wrap(p transcribe.Provider, cache Cache, opts Options) *CachingProvider {
	return &CachingProvider{
		next:  p,
		cache: cache,
		opts:  opts,
		log:   opts.Log.With().Str("component", "transcache").Str("provider", p.Name()).Logger(),
	}
}

func (c *CachingProvider) Name() string  { return c.next.Name() }
func (c *CachingProvider) Model() string { return c.next.Model() }

// WithRefresh returns a copy that always re-transcribes.
func (c *CachingProvider) WithRefresh(refresh bool) *CachingProvider {
	cp := *c
	cp.opts.Refresh = refresh
	return &cp
}

func (c *CachingProvider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Response, error) {
	key, err := KeyFor(audioPath, c.next, opts)
	if err != nil {
		return nil, err
	}
	log := c.log.With().Str("key", key.ObjectKey()).Logger()

	if !c.opts.Refresh {
		if resp, ok := c.lookup(ctx, key, log); ok {
			return resp, nil
		}
	}

	unlock, err := c.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have filled the entry while we waited.
	if !c.opts.Refresh {
		if resp, ok := c.lookup(ctx, key, log); ok {
			return resp, nil
		}
	}

	outcome := "miss"
	if c.opts.Refresh {
		outcome = "refresh"
	}
	start := time.Now()
	resp, err := c.next.Transcribe(ctx, audioPath, opts)
	if err != nil {
		return nil, err
	}
	metrics.TranscriptionDuration.WithLabelValues(c.next.Name()).Observe(time.Since(start).Seconds())
	metrics.TranscriptionsTotal.WithLabelValues(c.next.Name(), outcome).Inc()

	if err := c.cache.Put(ctx, key, resp); err != nil {
		log.Warn().Err(err).Msg("failed to cache transcript")
	} else {
		log.Debug().Int("words", resp.WordCount()).Msg("transcript cached")
	}
	return resp, nil
}

func (c *CachingProvider) lookup(ctx context.Context, key Key, log zerolog.Logger) (*transcribe.Response, bool) {
	resp, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("transcript cache read failed, transcribing")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	metrics.TranscriptionsTotal.WithLabelValues(c.next.Name(), "hit").Inc()
	log.Debug().Msg("transcript cache hit")
	return resp, true
}

// lock takes the cross-process lock for key, waiting until ctx is done.
func (c *CachingProvider) lock(ctx context.Context, key Key) (func(), error) {
	if c.opts.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(c.opts.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(c.opts.LockDir, key.Digest()+".lock"))
	ok, err := fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire transcript lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire transcript lock: %w", ctx.Err())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.log.Warn().Err(err).Msg("failed to release transcript lock")
		}
	}, nil
}
