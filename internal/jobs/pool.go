// Package jobs runs alignment jobs on a bounded worker pool: load the script,
// obtain a transcript, align, apply the review policy, persist, render
// subtitles and publish lifecycle events.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/events"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// ErrQueueFull is returned by Submit when every queue slot is taken.
var ErrQueueFull = errors.New("job queue is full")

var errShutdown = errors.New("pool stopped")

// Store is the persistence the pool needs. *database.DB implements it.
type Store interface {
	CreateJob(ctx context.Context, nj database.NewJob) (*database.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID) error
	CompleteJob(ctx context.Context, id uuid.UUID, res database.JobResult) error
	FailJob(ctx context.Context, id uuid.UUID, reason string) error
	RequeueStaleJobs(ctx context.Context) (int64, error)
	ListQueuedJobs(ctx context.Context, limit int) ([]database.Job, error)
}

// Publisher receives lifecycle events. *events.Bus implements it.
type Publisher interface {
	Publish(eventType, subType, jobID string, payload any)
}

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// Options configures the worker pool.
type Options struct {
	Store   Store
	Objects storage.ObjectStore

	// Provider transcribes audio. Nil means jobs must carry a transcript.
	Provider          transcribe.Provider
	TranscribeOptions transcribe.Options

	Aligner *align.Aligner
	Presets subtitle.Presets

	// MismatchReviewRatio marks a job needs_review when
	// |words-tokens|/tokens exceeds it. Zero disables the check.
	MismatchReviewRatio float64
	// MaxAudioSeconds logs a warning for longer voiceovers. Zero disables.
	MaxAudioSeconds float64

	Workers    int
	QueueSize  int
	JobTimeout time.Duration

	Events Publisher
	Log    zerolog.Logger
}

// Pool manages alignment workers.
type Pool struct {
	queue  chan uuid.UUID
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a worker pool. Call Start to launch the workers.
func NewPool(opts Options) *Pool {
	if opts.Aligner == nil {
		opts.Aligner = align.New(align.Options{})
	}
	if opts.Presets == nil {
		opts.Presets = subtitle.BuiltinPresets()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:  make(chan uuid.UUID, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "jobs").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	provider := "none"
	if p.opts.Provider != nil {
		provider = p.opts.Provider.Name()
	}
	p.log.Info().
		Int("workers", p.opts.Workers).
		Int("queue_size", p.opts.QueueSize).
		Str("provider", provider).
		Msg("alignment worker pool started")
}

// Stop cancels running jobs and waits for the workers to exit. Interrupted
// and still-queued jobs keep their database status and are picked up by
// Resume on the next start.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("alignment worker pool stopped")
}

// Enqueue adds a job id to the queue. Returns false if the queue is full or
// the pool is stopped.
func (p *Pool) Enqueue(id uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.queue <- id:
		return true
	default:
		return false
	}
}

// Submit records a new job and queues it. When the queue is full the job is
// marked failed and ErrQueueFull is returned alongside it.
func (p *Pool) Submit(ctx context.Context, nj database.NewJob) (*database.Job, error) {
	job, err := p.opts.Store.CreateJob(ctx, nj)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !p.Enqueue(job.ID) {
		if err := p.opts.Store.FailJob(ctx, job.ID, ErrQueueFull.Error()); err != nil {
			p.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark rejected job")
		}
		job.Status = database.StatusFailed
		job.Error = ErrQueueFull.Error()
		return job, ErrQueueFull
	}
	p.publish(events.JobQueued, "", job.ID, map[string]any{
		"job_id": job.ID,
		"name":   job.Name,
		"source": job.Source,
	})
	p.log.Info().Str("job_id", job.ID.String()).Str("name", job.Name).Str("source", job.Source).Msg("job queued")
	return job, nil
}

// Resume re-queues jobs left behind by a previous process: running jobs are
// reset to queued, then queued jobs are enqueued oldest first.
func (p *Pool) Resume(ctx context.Context) (int, error) {
	reset, err := p.opts.Store.RequeueStaleJobs(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		p.log.Warn().Int64("count", reset).Msg("reset interrupted jobs to queued")
	}

	queued, err := p.opts.Store.ListQueuedJobs(ctx, p.opts.QueueSize)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	n := 0
	for _, j := range queued {
		if !p.Enqueue(j.ID) {
			p.log.Warn().Int("remaining", len(queued)-n).Msg("queue full while resuming, remaining jobs wait for restart")
			break
		}
		n++
	}
	if n > 0 {
		p.log.Info().Int("count", n).Msg("resumed queued jobs")
	}
	return n, nil
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.queue),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Workers:   p.opts.Workers,
	}
}

// QueueDepth implements metrics.ServiceStats.
func (p *Pool) QueueDepth() int { return len(p.queue) }

// ActiveJobs implements metrics.ServiceStats.
func (p *Pool) ActiveJobs() int { return int(p.active.Load()) }

// HasProvider reports whether audio-only jobs can be transcribed.
func (p *Pool) HasProvider() bool { return p.opts.Provider != nil }

// Presets returns the subtitle presets used for rendering.
func (p *Pool) Presets() subtitle.Presets { return p.opts.Presets }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for jobID := range p.queue {
		if p.ctx.Err() != nil {
			continue
		}
		p.active.Add(1)
		err := p.run(log, jobID)
		p.active.Add(-1)
		switch {
		case errors.Is(err, database.ErrNotQueued):
			log.Debug().Str("job_id", jobID.String()).Msg("job already claimed, skipping")
		case errors.Is(err, errShutdown):
			log.Info().Str("job_id", jobID.String()).Msg("job interrupted by shutdown, will resume")
		case err != nil:
			p.failed.Add(1)
		default:
			p.completed.Add(1)
		}
	}
}

func (p *Pool) publish(eventType, subType string, id uuid.UUID, payload any) {
	if p.opts.Events != nil {
		p.opts.Events.Publish(eventType, subType, id.String(), payload)
	}
}
