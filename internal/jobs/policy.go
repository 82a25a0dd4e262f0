package jobs

import (
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/metrics"
)

// ArtifactKey returns the storage key of a file produced for job id,
// e.g. jobs/<id>/subtitles.srt.
func ArtifactKey(id uuid.UUID, name string) string {
	return path.Join("jobs", id.String(), name)
}

// UploadPrefix returns a fresh prefix for files submitted with a new job.
func UploadPrefix() string {
	return path.Join("uploads", uuid.NewString())
}

// ReviewStatus applies the review policy: an empty transcript, a result
// without any segment, or a word-count mismatch whose ratio exceeds
// reviewRatio needs a human. A zero reviewRatio disables the ratio check.
func ReviewStatus(result align.Result, reviewRatio float64) database.JobStatus {
	rep := result.Report
	switch {
	case rep.EmptyTranscript != nil:
		return database.StatusNeedsReview
	case len(result.Segments) == 0:
		return database.StatusNeedsReview
	case reviewRatio > 0 && rep.Mismatch != nil && rep.Mismatch.Ratio() > reviewRatio:
		return database.StatusNeedsReview
	}
	return database.StatusCompleted
}

// RecordAlignment updates the alignment counters for one run.
func RecordAlignment(rep align.Report) {
	metrics.AlignmentsTotal.WithLabelValues(string(rep.Strategy)).Inc()
	metrics.AlignmentSkippedTokensTotal.Add(float64(len(rep.Skipped)))
	metrics.AlignmentDroppedLinesTotal.Add(float64(len(rep.DroppedLines)))
}

// LogReport logs alignment diagnostics: counts at Warn when the transcript
// and script disagree, each skipped token at Debug.
func LogReport(log zerolog.Logger, rep align.Report) {
	if rep.EmptyTranscript != nil {
		log.Warn().
			Int("script_lines", rep.EmptyTranscript.ScriptLines).
			Int("script_tokens", rep.EmptyTranscript.ScriptTokens).
			Msg("empty transcript, nothing aligned")
		return
	}
	if m := rep.Mismatch; m != nil {
		log.Warn().
			Int("transcript_words", m.TranscriptWords).
			Int("script_tokens", m.ScriptTokens).
			Int("skipped_tokens", len(rep.Skipped)).
			Ints("dropped_lines", rep.DroppedLines).
			Float64("ratio", m.Ratio()).
			Msg("word count mismatch, using fuzzy alignment")
	}
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	for _, s := range rep.Skipped {
		log.Debug().
			Int("line", s.Line).
			Int("token_index", s.TokenIndex).
			Str("token", s.Token).
			Float64("best_score", s.BestScore).
			Bool("exhausted", s.Exhausted).
			Msg("no match for token")
	}
}
