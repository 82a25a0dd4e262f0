package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snarg/scriptsync/internal/align"
)

// ErrNotQueued is returned by MarkJobRunning when another worker already
// claimed the job or it has finished.
var ErrNotQueued = errors.New("job is not queued")

// JobStatus is the lifecycle state of an alignment job:
// queued → running → completed | needs_review | failed.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusRunning     JobStatus = "running"
	StatusCompleted   JobStatus = "completed"
	StatusNeedsReview JobStatus = "needs_review"
	StatusFailed      JobStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{StatusQueued, StatusRunning, StatusCompleted, StatusNeedsReview, StatusFailed}

func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusNeedsReview || s == StatusFailed
}

// HasResult reports whether aligned segments were stored for the job.
func (s JobStatus) HasResult() bool {
	return s == StatusCompleted || s == StatusNeedsReview
}

// Job sources.
const (
	SourceAPI   = "api"
	SourceInbox = "inbox"
	SourceCLI   = "cli"
)

// JobOptions are the per-job overrides captured at submission.
type JobOptions struct {
	Language string `json:"language,omitempty"`
	Preset   string `json:"preset,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// Job is one alignment job row.
type Job struct {
	ID            uuid.UUID  `json:"job_id"`
	Name          string     `json:"name"`
	Source        string     `json:"source"`
	Status        JobStatus  `json:"status"`
	ScriptKey     string     `json:"script_key"`
	AudioKey      string     `json:"audio_key,omitempty"`
	TranscriptKey string     `json:"transcript_key,omitempty"`
	Options       JobOptions `json:"options"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Strategy string `json:"strategy,omitempty"`

	ScriptLines     int      `json:"script_lines"`
	ScriptTokens    int      `json:"script_tokens"`
	TranscriptWords int      `json:"transcript_words"`
	MatchedWords    int      `json:"matched_words"`
	SkippedTokens   int      `json:"skipped_tokens"`
	DroppedLines    int      `json:"dropped_lines"`
	AudioDuration   *float64 `json:"audio_duration,omitempty"`

	Report *align.Report `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob holds the fields supplied when a job is submitted.
type NewJob struct {
	Name          string
	Source        string
	ScriptKey     string
	AudioKey      string
	TranscriptKey string
	Options       JobOptions
}

const jobSelect = `SELECT id, name, source, status, script_key,
	COALESCE(audio_key, ''), COALESCE(transcript_key, ''), options,
	COALESCE(provider, ''), COALESCE(model, ''), COALESCE(language, ''), COALESCE(strategy, ''),
	script_lines, script_tokens, transcript_words, matched_words, skipped_tokens, dropped_lines,
	audio_duration, %s, COALESCE(error, ''),
	created_at, started_at, finished_at
	FROM jobs`

// jobColumns carries the full report; list queries leave it out.
var (
	jobColumns     = fmt.Sprintf(jobSelect, "report")
	jobListColumns = fmt.Sprintf(jobSelect, "NULL::jsonb")
)

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j       Job
		status  string
		options []byte
		report  []byte
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Source, &status, &j.ScriptKey,
		&j.AudioKey, &j.TranscriptKey, &options,
		&j.Provider, &j.Model, &j.Language, &j.Strategy,
		&j.ScriptLines, &j.ScriptTokens, &j.TranscriptWords, &j.MatchedWords, &j.SkippedTokens, &j.DroppedLines,
		&j.AudioDuration, &report, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &j.Options); err != nil {
			return nil, fmt.Errorf("decode options of job %s: %w", j.ID, err)
		}
	}
	if len(report) > 0 {
		j.Report = &align.Report{}
		if err := json.Unmarshal(report, j.Report); err != nil {
			return nil, fmt.Errorf("decode report of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

// CreateJob inserts a queued job with a fresh v4 id.
func (db *DB) CreateJob(ctx context.Context, nj NewJob) (*Job, error) {
	if nj.ScriptKey == "" {
		return nil, errors.New("script key is required")
	}
	if nj.Source == "" {
		nj.Source = SourceAPI
	}
	options, err := json.Marshal(nj.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	j := &Job{
		ID:            uuid.New(),
		Name:          nj.Name,
		Source:        nj.Source,
		Status:        StatusQueued,
		ScriptKey:     nj.ScriptKey,
		AudioKey:      nj.AudioKey,
		TranscriptKey: nj.TranscriptKey,
		Options:       nj.Options,
	}
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO jobs (id, name, source, status, script_key, audio_key, transcript_key, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, j.ID, j.Name, j.Source, string(j.Status), j.ScriptKey,
		pqString(j.AudioKey), pqString(j.TranscriptKey), options,
	).Scan(&j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// GetJob returns a job with its report, or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(db.Pool.QueryRow(ctx, jobColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// JobFilter specifies filters for listing jobs.
type JobFilter struct {
	Statuses []JobStatus
	Source   string
	Search   string // substring of the job name
	Since    *time.Time
	Limit    int
	Offset   int
	Sort     string
}

var jobSortColumns = map[string]string{
	"created_at":  "created_at ASC",
	"-created_at": "created_at DESC",
	"name":        "name ASC",
	"-name":       "name DESC",
	"status":      "status ASC, created_at DESC",
}

// ListJobs returns one page of jobs and the total number matching the filter.
func (db *DB) ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error) {
	qb := newQueryBuilder()
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		qb.Add("status = ANY(%s)", statuses)
	}
	if filter.Source != "" {
		qb.Add("source = %s", filter.Source)
	}
	if filter.Search != "" {
		qb.Add("name ILIKE %s", "%"+escapeLike(filter.Search)+"%")
	}
	if filter.Since != nil {
		qb.Add("created_at >= %s", *filter.Since)
	}
	where := qb.WhereClause()

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM jobs`+where, qb.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	order, ok := jobSortColumns[filter.Sort]
	if !ok {
		order = jobSortColumns["-created_at"]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := jobListColumns + where + " ORDER BY " + order +
		" LIMIT " + qb.Param(limit) + " OFFSET " + qb.Param(filter.Offset)

	rows, err := db.Pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}

// ListQueuedJobs returns queued jobs oldest first, for re-enqueueing at startup.
func (db *DB) ListQueuedJobs(ctx context.Context, limit int) ([]Job, error) {
	jobs, _, err := db.ListJobs(ctx, JobFilter{
		Statuses: []JobStatus{StatusQueued},
		Limit:    limit,
		Sort:     "created_at",
	})
	return jobs, err
}

// RequeueStaleJobs moves jobs left running by a previous process back to
// queued and returns how many were reset.
func (db *DB) RequeueStaleJobs(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkJobRunning claims a queued job.
func (db *DB) MarkJobRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = now(), error = NULL
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotQueued
	}
	return nil
}

// JobResult is everything a worker stores when an alignment succeeds.
type JobResult struct {
	Status        JobStatus
	Provider      string
	Model         string
	Language      string
	TranscriptKey string
	AudioDuration *float64
	Result        align.Result
}

// CompleteJob stores the aligned segments and report in one transaction and
// moves the job to its final status.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, res JobResult) error {
	if !res.Status.HasResult() {
		return fmt.Errorf("complete job: invalid status %q", res.Status)
	}
	report, err := json.Marshal(res.Result.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM aligned_segments WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	if len(res.Result.Segments) > 0 {
		batch := &pgx.Batch{}
		for i, seg := range res.Result.Segments {
			words, err := json.Marshal(seg.Words)
			if err != nil {
				return fmt.Errorf("encode words of line %d: %w", i, err)
			}
			batch.Queue(`
				INSERT INTO aligned_segments (job_id, line_index, script_line, start_sec, end_sec, words)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, id, i, seg.ScriptLine, seg.Start, seg.End, words)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert segments: %w", err)
		}
	}

	rep := res.Result.Report
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET
			status = $2,
			provider = $3,
			model = $4,
			language = $5,
			transcript_key = COALESCE($6, transcript_key),
			strategy = $7,
			script_lines = $8,
			script_tokens = $9,
			transcript_words = $10,
			matched_words = $11,
			skipped_tokens = $12,
			dropped_lines = $13,
			audio_duration = $14,
			report = $15,
			error = NULL,
			finished_at = now()
		WHERE id = $1
	`, id, string(res.Status), pqString(res.Provider), pqString(res.Model), pqString(res.Language),
		pqString(res.TranscriptKey), string(rep.Strategy),
		rep.ScriptLines, rep.ScriptTokens, rep.TranscriptWords,
		rep.MatchedWords(), len(rep.Skipped), len(rep.DroppedLines),
		res.AudioDuration, report,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// FailJob records a terminal failure.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, finished_at = now()
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSegments returns the aligned segments of a job in script order.
func (db *DB) GetSegments(ctx context.Context, id uuid.UUID) ([]align.AlignedSegment, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT script_line, start_sec, end_sec, words
		FROM aligned_segments
		WHERE job_id = $1
		ORDER BY line_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	segments := []align.AlignedSegment{}
	for rows.Next() {
		var (
			s     align.AlignedSegment
			words []byte
		)
		if err := rows.Scan(&s.ScriptLine, &s.Start, &s.End, &words); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(words, &s.Words); err != nil {
			return nil, fmt.Errorf("decode words: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// JobCounts returns the number of jobs per status. Every status is present.
func (db *DB) JobCounts(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := db.Pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// JobStats summarizes finished work for `scriptctl db stats`.
type JobStats struct {
	Counts            map[JobStatus]int
	AvgRunSeconds     float64
	AvgMatchRatio     float64
	TotalAudioSeconds float64
}

func (db *DB) JobStats(ctx context.Context) (*JobStats, error) {
	counts, err := db.JobCounts(ctx)
	if err != nil {
		return nil, err
	}
	st := &JobStats{Counts: counts}
	err = db.Pool.QueryRow(ctx, `
		SELECT
			COALESCE(avg(EXTRACT(EPOCH FROM finished_at - started_at)), 0)::float8,
			COALESCE(avg(matched_words::float8 / NULLIF(script_tokens, 0)), 0)::float8,
			COALESCE(sum(audio_duration), 0)::float8
		FROM jobs
		WHERE status IN ('completed', 'needs_review')
	`).Scan(&st.AvgRunSeconds, &st.AvgMatchRatio, &st.TotalAudioSeconds)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return st, nil
}
