package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/jobs"
	"github.com/snarg/scriptsync/internal/metrics"
	"github.com/snarg/scriptsync/internal/script"
	"github.com/snarg/scriptsync/internal/subtitle"
)

// AlignRequest is the body of POST /align. Either Script or Lines carries the
// script; Segments carries the transcript as a provider emitted it.
type AlignRequest struct {
	Script    string          `json:"script,omitempty"`
	Lines     []string        `json:"lines,omitempty"`
	Segments  []align.Segment `json:"segments"`
	Window    int             `json:"window,omitempty"`
	Threshold float64         `json:"threshold,omitempty"`
}

// AlignResponse is the JSON result of POST /align.
type AlignResponse struct {
	Status   database.JobStatus     `json:"status"`
	Segments []align.AlignedSegment `json:"segments"`
	Report   align.Report           `json:"report"`
}

// AlignHandler aligns a script against a supplied transcript within the
// request. No job is recorded.
type AlignHandler struct {
	aligner     *align.Aligner
	presets     subtitle.Presets
	reviewRatio float64
}

func NewAlignHandler(aligner *align.Aligner, presets subtitle.Presets, reviewRatio float64) *AlignHandler {
	if aligner == nil {
		aligner = align.New(align.Options{})
	}
	if presets == nil {
		presets = subtitle.BuiltinPresets()
	}
	return &AlignHandler{aligner: aligner, presets: presets, reviewRatio: reviewRatio}
}

// Align handles POST /api/v1/align. With ?format=srt|vtt|ass the rendered
// subtitles are returned instead of JSON; ?preset= picks the layout.
func (h *AlignHandler) Align(w http.ResponseWriter, r *http.Request) {
	var req AlignRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body: "+err.Error())
		return
	}

	var (
		lines []align.ScriptLine
		err   error
	)
	if len(req.Lines) > 0 {
		lines, err = script.FromLines(req.Lines)
	} else {
		lines, err = script.FromText(req.Script)
	}
	if errors.Is(err, align.ErrEmptyScript) {
		WriteErrorWithCode(w, http.StatusUnprocessableEntity, ErrEmptyScript, "script has no lines")
		return
	} else if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	var format subtitle.Format
	var layout subtitle.Layout
	if v, ok := QueryString(r, "format"); ok && v != "json" {
		if format, err = subtitle.ParseFormat(v); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		if layout, err = h.presets.Get(r.URL.Query().Get("preset")); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
	}

	// Flatten reports an empty transcript, which alignment handles itself.
	words, _ := align.Flatten(req.Segments)

	aligner := h.aligner
	if req.Window > 0 || req.Threshold > 0 {
		opts := align.Options{Window: h.aligner.Window(), Threshold: h.aligner.Threshold()}
		if req.Window > 0 {
			opts.Window = req.Window
		}
		if req.Threshold > 0 {
			if req.Threshold >= 1 {
				WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "threshold must be below 1")
				return
			}
			opts.Threshold = req.Threshold
		}
		aligner = align.New(opts)
	}

	start := time.Now()
	result, err := aligner.Align(lines, words)
	metrics.AlignmentDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	jobs.RecordAlignment(result.Report)
	jobs.LogReport(*hlog.FromRequest(r), result.Report)

	if format != "" {
		out, err := subtitle.Render(result.Segments, format, layout)
		if err != nil {
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}

	WriteJSON(w, http.StatusOK, AlignResponse{
		Status:   jobs.ReviewStatus(result, h.reviewRatio),
		Segments: result.Segments,
		Report:   result.Report,
	})
}

// Routes registers the align endpoint.
func (h *AlignHandler) Routes(r chi.Router) {
	r.Post("/align", h.Align)
}
