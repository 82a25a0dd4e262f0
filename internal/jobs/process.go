package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/audio"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/events"
	"github.com/snarg/scriptsync/internal/metrics"
	"github.com/snarg/scriptsync/internal/script"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
	"github.com/snarg/scriptsync/internal/transcache"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// run executes one job end to end and records the outcome. It returns
// database.ErrNotQueued when another worker owns the job.
func (p *Pool) run(log zerolog.Logger, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.JobTimeout)
	defer cancel()

	if err := p.opts.Store.MarkJobRunning(ctx, id); err != nil {
		return err
	}
	log = log.With().Str("job_id", id.String()).Logger()
	start := time.Now()

	job, err := p.opts.Store.GetJob(ctx, id)
	if err != nil {
		return p.fail(log, id, fmt.Errorf("load job: %w", err))
	}
	p.publish(events.JobStarted, "", id, map[string]any{"job_id": id, "name": job.Name})

	res, err := p.process(ctx, log, job)
	if err != nil {
		return p.fail(log, id, err)
	}

	if err := p.opts.Store.CompleteJob(ctx, id, *res); err != nil {
		return p.fail(log, id, fmt.Errorf("store result: %w", err))
	}

	rep := res.Result.Report
	metrics.JobsTotal.WithLabelValues(string(res.Status)).Inc()
	p.publish(events.JobCompleted, string(res.Status), id, map[string]any{
		"job_id":           id,
		"name":             job.Name,
		"status":           res.Status,
		"strategy":         rep.Strategy,
		"segments":         len(res.Result.Segments),
		"script_tokens":    rep.ScriptTokens,
		"transcript_words": rep.TranscriptWords,
		"skipped_tokens":   len(rep.Skipped),
		"dropped_lines":    len(rep.DroppedLines),
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	log.Info().
		Str("status", string(res.Status)).
		Str("strategy", string(rep.Strategy)).
		Int("segments", len(res.Result.Segments)).
		Dur("took", time.Since(start)).
		Msg("job complete")
	return nil
}

// fail records err on the job. Its return value is err, for chaining.
// During shutdown the job is left as is so that Resume retries it.
func (p *Pool) fail(log zerolog.Logger, id uuid.UUID, err error) error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", errShutdown, err)
	}
	log.Warn().Err(err).Msg("job failed")
	metrics.JobsTotal.WithLabelValues(string(database.StatusFailed)).Inc()

	// The job context may be what expired; record the failure regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := p.opts.Store.FailJob(ctx, id, err.Error()); ferr != nil {
		log.Error().Err(ferr).Msg("failed to record job failure")
	}
	p.publish(events.JobFailed, "", id, map[string]any{"job_id": id, "error": err.Error()})
	return err
}

// process produces the result of a job without touching its row.
func (p *Pool) process(ctx context.Context, log zerolog.Logger, job *database.Job) (*database.JobResult, error) {
	scriptData, err := storage.ReadAll(ctx, p.opts.Objects, job.ScriptKey)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", job.ScriptKey, err)
	}
	lines, err := script.Parse(bytes.NewReader(scriptData))
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	resp, transcriptKey, duration, err := p.transcript(ctx, log, job)
	if err != nil {
		return nil, err
	}

	words, err := resp.Words()
	if errors.Is(err, align.ErrEmptyTranscript) {
		log.Warn().Msg("transcript contains no words")
	} else if err != nil {
		return nil, fmt.Errorf("flatten transcript: %w", err)
	}

	alignStart := time.Now()
	result, err := p.opts.Aligner.Align(lines, words)
	metrics.AlignmentDuration.Observe(time.Since(alignStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	RecordAlignment(result.Report)
	LogReport(log, result.Report)

	status := ReviewStatus(result, p.opts.MismatchReviewRatio)

	if err := p.saveArtifacts(ctx, job, result); err != nil {
		return nil, err
	}

	return &database.JobResult{
		Status:        status,
		Provider:      resp.Provider,
		Model:         resp.Model,
		Language:      resp.Language,
		TranscriptKey: transcriptKey,
		AudioDuration: duration,
		Result:        result,
	}, nil
}

// transcript returns the job's transcript: the supplied one when present,
// otherwise a (cached) transcription of the audio, which is then stored
// under the job's artifact prefix.
func (p *Pool) transcript(ctx context.Context, log zerolog.Logger, job *database.Job) (*transcribe.Response, string, *float64, error) {
	if job.TranscriptKey != "" {
		data, err := storage.ReadAll(ctx, p.opts.Objects, job.TranscriptKey)
		if err != nil {
			return nil, "", nil, fmt.Errorf("read transcript %s: %w", job.TranscriptKey, err)
		}
		resp, err := transcribe.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", nil, fmt.Errorf("decode transcript: %w", err)
		}
		var duration *float64
		if resp.Duration > 0 {
			duration = &resp.Duration
		}
		return resp, job.TranscriptKey, duration, nil
	}

	if job.AudioKey == "" {
		return nil, "", nil, errors.New("job has neither audio nor transcript")
	}
	if p.opts.Provider == nil {
		return nil, "", nil, transcribe.ErrNoProvider
	}

	audioPath, cleanup, err := localCopy(ctx, p.opts.Objects, job.AudioKey)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetch audio %s: %w", job.AudioKey, err)
	}
	defer cleanup()

	duration := p.probe(ctx, log, audioPath)

	provider := p.opts.Provider
	if cp, ok := provider.(*transcache.CachingProvider); ok && job.Options.Refresh {
		provider = cp.WithRefresh(true)
	}
	opts := p.opts.TranscribeOptions
	if job.Options.Language != "" {
		opts.Language = job.Options.Language
	}
	if job.Options.Prompt != "" {
		opts.Prompt = job.Options.Prompt
	}

	resp, err := provider.Transcribe(ctx, audioPath, opts)
	if err != nil {
		return nil, "", nil, fmt.Errorf("transcribe: %w", err)
	}
	if duration == nil && resp.Duration > 0 {
		duration = &resp.Duration
	}

	key := ArtifactKey(job.ID, "transcript.json")
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, "", nil, fmt.Errorf("encode transcript: %w", err)
	}
	if err := p.opts.Objects.Save(ctx, key, data, "application/json"); err != nil {
		return nil, "", nil, fmt.Errorf("save transcript: %w", err)
	}
	return resp, key, duration, nil
}

// probe reads the audio duration when ffprobe is installed.
func (p *Pool) probe(ctx context.Context, log zerolog.Logger, path string) *float64 {
	if !audio.HasFFprobe() {
		return nil
	}
	info, err := audio.Probe(ctx, path)
	if err != nil {
		log.Debug().Err(err).Msg("ffprobe failed")
		return nil
	}
	if info.ExceedsLimit(p.opts.MaxAudioSeconds) {
		log.Warn().
			Float64("duration", info.Duration).
			Float64("limit", p.opts.MaxAudioSeconds).
			Msg("voiceover is longer than the short-form limit")
	}
	return &info.Duration
}

// saveArtifacts stores the segments and the subtitles rendered with the
// job's preset.
func (p *Pool) saveArtifacts(ctx context.Context, job *database.Job, result align.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.opts.Objects.Save(ctx, ArtifactKey(job.ID, "segments.json"), data, "application/json"); err != nil {
		return fmt.Errorf("save segments: %w", err)
	}

	layout, err := p.opts.Presets.Get(job.Options.Preset)
	if err != nil {
		return err
	}
	for _, f := range subtitle.Formats {
		out, err := subtitle.Render(result.Segments, f, layout)
		if err != nil {
			return fmt.Errorf("render %s: %w", f, err)
		}
		key := ArtifactKey(job.ID, "subtitles."+string(f))
		if err := p.opts.Objects.Save(ctx, key, out, f.ContentType()); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return nil
}

// localCopy returns a filesystem path for key, downloading it to a temp file
// when the store has no local copy.
func localCopy(ctx context.Context, store storage.ObjectStore, key string) (string, func(), error) {
	if path := store.LocalPath(key); path != "" {
		return path, func() {}, nil
	}
	r, err := store.Open(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "scriptsync-audio-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
