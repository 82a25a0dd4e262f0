// Package ingest watches an inbox directory for voiceover projects and
// submits each ready project as an alignment job.
//
// A project is a directory directly below the inbox holding script.txt plus
// either one audio file or a transcript.json. Once submitted, the project
// gets a .scriptsync-job marker holding the job id; finished subtitles are
// written back into the project directory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/audio"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/events"
	"github.com/snarg/scriptsync/internal/jobs"
	"github.com/snarg/scriptsync/internal/script"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
)

const (
	// MarkerFile records the job id of a submitted project.
	MarkerFile = ".scriptsync-job"
	// TranscriptFile is an optional pre-made transcript inside a project.
	TranscriptFile = "transcript.json"

	defaultDebounce = 2 * time.Second
)

// Submitter queues jobs. *jobs.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, nj database.NewJob) (*database.Job, error)
}

// Subscriber delivers job events. *events.Bus implements it.
type Subscriber interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
}

// Options configures a Watcher.
type Options struct {
	Dir     string
	Objects storage.ObjectStore
	Jobs    Submitter
	// Events, when set, lets the watcher export finished subtitles back
	// into the project directory.
	Events Subscriber
	// JobOptions are applied to every submitted project.
	JobOptions database.JobOptions
	Debounce   time.Duration
	Log        zerolog.Logger
}

// WatcherStatus is reported by the health endpoint.
type WatcherStatus struct {
	Status    string `json:"status"`
	InboxDir  string `json:"inbox_dir"`
	Submitted int64  `json:"projects_submitted"`
	Skipped   int64  `json:"projects_skipped"`
	Exported  int64  `json:"projects_exported"`
}

// Watcher monitors the inbox with fsnotify.
type Watcher struct {
	opts Options
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce the burst of events produced while files are copied.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// pending maps job id → project dir for jobs awaiting export.
	pendingMu sync.Mutex
	pending   map[string]string

	// submitMu serializes submissions so a project is never submitted twice.
	submitMu sync.Mutex

	submitted atomic.Int64
	skipped   atomic.Int64
	exported  atomic.Int64
	status    atomic.Value // "starting", "backfilling", "watching", "stopped"
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
		pending:        make(map[string]string),
	}
	w.status.Store("starting")
	return w
}

// Start watches the inbox and every project directory in it, then backfills
// projects that were dropped while the service was down.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	projects := w.projectDirs()
	for _, dir := range projects {
		if err := fw.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("path", dir).Msg("failed to watch project directory")
		}
	}
	w.log.Info().Int("projects", len(projects)).Str("inbox_dir", w.opts.Dir).Msg("inbox watcher initialized")

	if w.opts.Events != nil {
		ch, unsubscribe := w.opts.Events.Subscribe(events.Filter{Types: []string{events.JobCompleted, events.JobFailed}})
		w.wg.Add(1)
		go w.exportLoop(ch, unsubscribe)
	}

	w.wg.Add(2)
	go w.watchLoop()
	go w.backfill(projects)
	return nil
}

// Stop closes the fsnotify watcher and waits for background work.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.debounceMu.Lock()
	for p, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, p)
	}
	w.debounceMu.Unlock()
	w.wg.Wait()
	w.log.Info().
		Int64("submitted", w.submitted.Load()).
		Int64("skipped", w.skipped.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status.
func (w *Watcher) Status() WatcherStatus {
	s, _ := w.status.Load().(string)
	return WatcherStatus{
		Status:    s,
		InboxDir:  w.opts.Dir,
		Submitted: w.submitted.Load(),
		Skipped:   w.skipped.Load(),
		Exported:  w.exported.Load(),
	}
}

// projectDirs lists the visible directories directly below the inbox.
func (w *Watcher) projectDirs() []string {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list inbox")
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(w.opts.Dir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

// projectOf maps an event path to its project directory, or "" when the
// path is not inside a project.
func (w *Watcher) projectOf(name string) string {
	rel, err := filepath.Rel(w.opts.Dir, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if strings.HasPrefix(first, ".") {
		return ""
	}
	return filepath.Join(w.opts.Dir, first)
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) == MarkerFile {
				continue
			}

			// New project directory: watch it so files copied in later are seen.
			if filepath.Dir(event.Name) == filepath.Clean(w.opts.Dir) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new project")
					} else {
						w.log.Debug().Str("path", event.Name).Msg("watching new project")
					}
				}
			}

			if dir := w.projectOf(event.Name); dir != "" {
				w.scheduleProcess(dir)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces a project so it is only examined once its files
// stop changing.
func (w *Watcher) scheduleProcess(dir string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[dir]; ok {
		t.Reset(w.opts.Debounce)
		return
	}

	w.debounceTimers[dir] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, dir)
		w.debounceMu.Unlock()

		if w.ctx.Err() != nil {
			return
		}
		if _, err := w.ProcessProject(w.ctx, dir); err != nil && !errors.Is(err, errNotReady) {
			w.log.Warn().Err(err).Str("project", dir).Msg("failed to submit project")
		}
	})
}

func (w *Watcher) backfill(projects []string) {
	defer w.wg.Done()
	w.status.Store("backfilling")
	start := time.Now()
	n := 0
	for _, dir := range projects {
		if w.ctx.Err() != nil {
			return
		}
		job, err := w.ProcessProject(w.ctx, dir)
		switch {
		case errors.Is(err, errNotReady):
		case err != nil:
			w.log.Warn().Err(err).Str("project", dir).Msg("failed to submit project")
		case job != nil:
			n++
		}
	}
	w.status.Store("watching")
	w.log.Info().Int("submitted", n).Dur("elapsed", time.Since(start)).Msg("backfill complete")
}

var errNotReady = errors.New("project not ready")

// project is the set of input files found in a project directory.
type project struct {
	dir        string
	script     string
	audio      string
	transcript string
}

// scanProject reports the project's inputs, or errNotReady when script.txt
// or both audio and transcript are missing.
func scanProject(dir string) (project, error) {
	p := project{dir: dir}
	if _, err := os.Stat(filepath.Join(dir, script.FileName)); err != nil {
		return p, errNotReady
	}
	p.script = filepath.Join(dir, script.FileName)

	if _, err := os.Stat(filepath.Join(dir, TranscriptFile)); err == nil {
		p.transcript = filepath.Join(dir, TranscriptFile)
	}
	if a, err := audio.FindInDir(dir); err == nil {
		p.audio = a
	}
	if p.audio == "" && p.transcript == "" {
		return p, errNotReady
	}
	return p, nil
}

// ReadMarker returns the job id recorded for a project, or "".
func ReadMarker(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ProcessProject submits dir as a job unless it is incomplete or already
// marked. It returns (nil, nil) for marked projects.
func (w *Watcher) ProcessProject(ctx context.Context, dir string) (*database.Job, error) {
	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	if ReadMarker(dir) != "" {
		w.skipped.Add(1)
		return nil, nil
	}
	p, err := scanProject(dir)
	if err != nil {
		return nil, err
	}

	prefix := jobs.UploadPrefix()
	nj := database.NewJob{
		Name:    filepath.Base(dir),
		Source:  database.SourceInbox,
		Options: w.opts.JobOptions,
	}
	if nj.ScriptKey, err = w.upload(ctx, p.script, prefix); err != nil {
		return nil, err
	}
	// A supplied transcript wins; audio is not uploaded then.
	if p.transcript != "" {
		if nj.TranscriptKey, err = w.upload(ctx, p.transcript, prefix); err != nil {
			return nil, err
		}
	} else if nj.AudioKey, err = w.upload(ctx, p.audio, prefix); err != nil {
		return nil, err
	}

	// Hold pendingMu across Submit so a job that finishes immediately is
	// still found by exportLoop.
	w.pendingMu.Lock()
	job, err := w.opts.Jobs.Submit(ctx, nj)
	if err == nil {
		w.pending[job.ID.String()] = dir
	}
	w.pendingMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte(job.ID.String()+"\n"), 0o644); err != nil {
		w.log.Warn().Err(err).Str("project", dir).Msg("failed to write job marker")
	}

	w.submitted.Add(1)
	w.log.Info().Str("project", nj.Name).Str("job_id", job.ID.String()).Msg("project submitted")
	return job, nil
}

func (w *Watcher) upload(ctx context.Context, file, prefix string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	key := path.Join(prefix, filepath.Base(file))
	if err := w.opts.Objects.Save(ctx, key, data, storage.ContentTypeForKey(key)); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(file), err)
	}
	return key, nil
}

// exportLoop writes finished job artifacts into their project directories.
func (w *Watcher) exportLoop(ch <-chan events.Event, unsubscribe func()) {
	defer w.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-w.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			w.pendingMu.Lock()
			dir, tracked := w.pending[e.JobID]
			delete(w.pending, e.JobID)
			w.pendingMu.Unlock()
			if !tracked {
				continue
			}
			if e.Type == events.JobFailed {
				w.log.Warn().Str("project", dir).Str("job_id", e.JobID).RawJSON("event", e.Data).Msg("project job failed")
				continue
			}
			if err := w.export(w.ctx, e.JobID, dir); err != nil {
				w.log.Warn().Err(err).Str("project", dir).Msg("failed to export subtitles")
				continue
			}
			w.exported.Add(1)
		}
	}
}

// ExportNames are the artifacts copied back into a project directory.
var ExportNames = func() []string {
	names := []string{"segments.json"}
	for _, f := range subtitle.Formats {
		names = append(names, "subtitles."+string(f))
	}
	return names
}()

func (w *Watcher) export(ctx context.Context, jobID, dir string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return err
	}
	for _, name := range ExportNames {
		data, err := storage.ReadAll(ctx, w.opts.Objects, jobs.ArtifactKey(id, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	w.log.Info().Str("project", filepath.Base(dir)).Str("job_id", jobID).Msg("subtitles exported")
	return nil
}
