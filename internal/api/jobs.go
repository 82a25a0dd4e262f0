package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/audio"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/jobs"
	"github.com/snarg/scriptsync/internal/script"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
	"github.com/snarg/scriptsync/internal/timeline"
	"github.com/snarg/scriptsync/internal/transcribe"
)

// JobStore is the read side of job persistence. *database.DB implements it.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, filter database.JobFilter) ([]database.Job, int, error)
	GetSegments(ctx context.Context, id uuid.UUID) ([]align.AlignedSegment, error)
}

// JobSubmitter queues jobs. *jobs.Pool implements it.
type JobSubmitter interface {
	Submit(ctx context.Context, nj database.NewJob) (*database.Job, error)
	HasProvider() bool
}

type JobsHandler struct {
	store     JobStore
	submitter JobSubmitter
	objects   storage.ObjectStore
	presets   subtitle.Presets
	maxUpload int64
	log       zerolog.Logger
}

func NewJobsHandler(store JobStore, submitter JobSubmitter, objects storage.ObjectStore, presets subtitle.Presets, maxUploadMB int, log zerolog.Logger) *JobsHandler {
	if presets == nil {
		presets = subtitle.BuiltinPresets()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 200
	}
	return &JobsHandler{
		store:     store,
		submitter: submitter,
		objects:   objects,
		presets:   presets,
		maxUpload: int64(maxUploadMB) << 20,
		log:       log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/segments", h.GetSegments)
	r.Get("/jobs/{id}/subtitles.{format}", h.GetSubtitles)
	r.Get("/jobs/{id}/timeline", h.GetTimeline)
}

// ── Create ───────────────────────────────────────────────────────────

// CreateJob handles POST /api/v1/jobs.
//
// Multipart fields: script (file) or script_text; audio (file) and/or
// transcript (file, Whisper-style JSON; wins over audio); optional name,
// language, preset, prompt, refresh.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	scriptData, scriptName, err := formFileOrText(r, "script", "script_text")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if _, err := script.Parse(bytes.NewReader(scriptData)); errors.Is(err, align.ErrEmptyScript) {
		WriteErrorWithCode(w, http.StatusUnprocessableEntity, ErrEmptyScript, "script has no lines")
		return
	} else if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	transcriptData, _, terr := formFile(r, "transcript")
	audioData, audioName, aerr := formFile(r, "audio")
	if terr != nil && aerr != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "an audio or transcript file is required")
		return
	}
	if terr == nil {
		if _, err := transcribe.Decode(bytes.NewReader(transcriptData)); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
	} else {
		if !audio.IsAudioFile(audioName) {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest,
				fmt.Sprintf("unsupported audio file %q (want one of %s)", audioName, strings.Join(audio.Extensions, ", ")))
			return
		}
		if !h.submitter.HasProvider() {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "no transcription provider configured; upload a transcript")
			return
		}
	}

	opts := database.JobOptions{
		Language: r.FormValue("language"),
		Preset:   r.FormValue("preset"),
		Prompt:   r.FormValue("prompt"),
		Refresh:  r.FormValue("refresh") == "true" || r.FormValue("refresh") == "1",
	}
	if _, err := h.presets.Get(opts.Preset); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	nj := database.NewJob{
		Name:    r.FormValue("name"),
		Source:  database.SourceAPI,
		Options: opts,
	}
	if nj.Name == "" {
		nj.Name = strings.TrimSuffix(scriptName, filepath.Ext(scriptName))
	}

	ctx := r.Context()
	prefix := jobs.UploadPrefix()
	if nj.ScriptKey, err = h.save(ctx, prefix, script.FileName, scriptData); err != nil {
		h.uploadFailed(w, err)
		return
	}
	if terr == nil {
		if nj.TranscriptKey, err = h.save(ctx, prefix, "transcript.json", transcriptData); err != nil {
			h.uploadFailed(w, err)
			return
		}
	} else if nj.AudioKey, err = h.save(ctx, prefix, "audio"+strings.ToLower(filepath.Ext(audioName)), audioData); err != nil {
		h.uploadFailed(w, err)
		return
	}

	job, err := h.submitter.Submit(ctx, nj)
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrQueueFull, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Msg("submit job failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to create job")
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID.String())
	WriteJSON(w, http.StatusAccepted, job)
}

func (h *JobsHandler) save(ctx context.Context, prefix, name string, data []byte) (string, error) {
	key := path.Join(prefix, name)
	return key, h.objects.Save(ctx, key, data, storage.ContentTypeForKey(key))
}

func (h *JobsHandler) uploadFailed(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("store upload failed")
	WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to store upload")
}

// formFile reads a whole multipart file field.
func formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	return data, header.Filename, nil
}

// formFileOrText reads a file field, falling back to a plain text field.
func formFileOrText(r *http.Request, fileField, textField string) ([]byte, string, error) {
	data, name, err := formFile(r, fileField)
	if err == nil {
		return data, name, nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, "", err
	}
	if text := r.FormValue(textField); text != "" {
		return []byte(text), script.FileName, nil
	}
	return nil, "", fmt.Errorf("%s file or %s field is required", fileField, textField)
}

// ── Read ─────────────────────────────────────────────────────────────

// ListJobs handles GET /api/v1/jobs.
// Filters: status (comma list), source, q (name substring), since (RFC 3339).
// Sort: created_at, -created_at (default), name, -name, status.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	filter := database.JobFilter{
		Limit:  p.Limit,
		Offset: p.Offset,
		Sort:   r.URL.Query().Get("sort"),
	}
	for _, s := range QueryStringList(r, "status") {
		st := database.JobStatus(s)
		if !st.Valid() {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if v, ok := QueryString(r, "source"); ok {
		filter.Source = v
	}
	if v, ok := QueryString(r, "q"); ok {
		filter.Search = v
	}
	if t, ok := QueryTime(r, "since"); ok {
		filter.Since = &t
	}

	list, total, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to list jobs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   list,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// loadJob resolves {id} and writes the error response itself when it fails.
func (h *JobsHandler) loadJob(w http.ResponseWriter, r *http.Request) (*database.Job, bool) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "invalid job ID")
		return nil, false
	}
	job, err := h.store.GetJob(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "job not found")
		return nil, false
	} else if err != nil {
		h.log.Error().Err(err).Str("job_id", id.String()).Msg("get job failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to load job")
		return nil, false
	}
	return job, true
}

// loadSegments is loadJob for endpoints that need a finished result.
func (h *JobsHandler) loadSegments(w http.ResponseWriter, r *http.Request) (*database.Job, []align.AlignedSegment, bool) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return nil, nil, false
	}
	if !job.Status.HasResult() {
		WriteErrorDetail(w, http.StatusConflict, "job has no result", "status is "+string(job.Status))
		return nil, nil, false
	}
	segs, err := h.store.GetSegments(r.Context(), job.ID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("get segments failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to load segments")
		return nil, nil, false
	}
	return job, segs, true
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetSegments handles GET /api/v1/jobs/{id}/segments.
func (h *JobsHandler) GetSegments(w http.ResponseWriter, r *http.Request) {
	job, segs, ok := h.loadSegments(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"segments": segs,
	})
}

// GetSubtitles handles GET /api/v1/jobs/{id}/subtitles.{srt|vtt|ass}.
// Without ?preset= the file rendered by the worker is served; with one the
// subtitles are re-rendered from the stored segments.
func (h *JobsHandler) GetSubtitles(w http.ResponseWriter, r *http.Request) {
	format, err := subtitle.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	preset, custom := QueryString(r, "preset")
	layout, err := h.presets.Get(preset)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if !job.Status.HasResult() {
		WriteErrorDetail(w, http.StatusConflict, "job has no result", "status is "+string(job.Status))
		return
	}

	var out []byte
	if !custom || preset == job.Options.Preset {
		out, err = storage.ReadAll(r.Context(), h.objects, jobs.ArtifactKey(job.ID, "subtitles."+string(format)))
		if err != nil {
			out = nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("read stored subtitles failed, re-rendering")
		}
	}
	if out == nil {
		if !custom {
			if layout, err = h.presets.Get(job.Options.Preset); err != nil {
				layout = subtitle.DefaultLayout()
			}
		}
		segs, err := h.store.GetSegments(r.Context(), job.ID)
		if err != nil {
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, "failed to load segments")
			return
		}
		if out, err = subtitle.Render(segs, format, layout); err != nil {
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, downloadName(job)+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// GetTimeline handles GET /api/v1/jobs/{id}/timeline?slides=N&speed=F.
// With ?format=ffconcat an ffmpeg playlist is returned, naming the images
// 1.png, 2.png, ... (?ext= changes the extension).
func (h *JobsHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	slideCount, ok := QueryInt(r, "slides")
	if !ok {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "slides is required")
		return
	}
	speed := 1.0
	if v := r.URL.Query().Get("speed"); v != "" {
		if speed, ok = QueryFloat(r, "speed"); !ok {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "speed must be a number")
			return
		}
	}

	job, segs, ok := h.loadSegments(w, r)
	if !ok {
		return
	}
	slides, err := timeline.Build(segs, slideCount, speed)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "ffconcat" {
		ext := strings.TrimPrefix(r.URL.Query().Get("ext"), ".")
		if ext == "" {
			ext = "png"
		}
		images := make([]string, len(slides))
		for i := range slides {
			images[i] = fmt.Sprintf("%d.%s", i+1, ext)
		}
		var buf bytes.Buffer
		if err := timeline.WriteConcat(&buf, slides, images); err != nil {
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, downloadName(job)+".ffconcat"))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"speed":  speed,
		"slides": slides,
	})
}

func downloadName(job *database.Job) string {
	name := strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, job.Name)
	if name == "" {
		return job.ID.String()
	}
	return name
}
