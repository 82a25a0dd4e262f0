package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader handles background remote uploads without blocking the job
// pipeline. Objects are already on local disk before being enqueued here.
type AsyncUploader struct {
	remote   ObjectStore
	workers  int
	ch       chan uploadJob
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopped  atomic.Bool
	stopOnce sync.Once
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(remote ObjectStore, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		remote:  remote,
		workers: 2,
		ch:      make(chan uploadJob, bufferSize),
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking: drops with a warning if full or
// stopped, which is safe because the object is already cached locally.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	if u.stopped.Load() {
		return
	}
	job := uploadJob{key: key, data: data, contentType: contentType}
	select {
	case u.ch <- job:
	default:
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (object safe in cache)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop closes the queue and waits for in-flight uploads to drain.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.remote.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("async upload failed (object safe in cache)")
		}
		cancel()
	}
}
