package jobs

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
)

func TestReviewStatus(t *testing.T) {
	seg := []align.AlignedSegment{{ScriptLine: "x", Words: []align.TimedWord{{Text: "x"}}}}
	tests := []struct {
		name   string
		result align.Result
		ratio  float64
		want   database.JobStatus
	}{
		{"clean", align.Result{Segments: seg}, 0.25, database.StatusCompleted},
		{"empty_transcript", align.Result{Report: align.Report{EmptyTranscript: &align.EmptyTranscriptWarning{ScriptTokens: 3}}}, 0.25, database.StatusNeedsReview},
		{"no_segments", align.Result{}, 0.25, database.StatusNeedsReview},
		{"small_mismatch", align.Result{Segments: seg, Report: align.Report{Mismatch: &align.WordCountMismatch{TranscriptWords: 11, ScriptTokens: 10}}}, 0.25, database.StatusCompleted},
		{"large_mismatch", align.Result{Segments: seg, Report: align.Report{Mismatch: &align.WordCountMismatch{TranscriptWords: 20, ScriptTokens: 10}}}, 0.25, database.StatusNeedsReview},
		{"ratio_disabled", align.Result{Segments: seg, Report: align.Report{Mismatch: &align.WordCountMismatch{TranscriptWords: 20, ScriptTokens: 10}}}, 0, database.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReviewStatus(tt.result, tt.ratio); got != tt.want {
				t.Errorf("ReviewStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c1a4e-52a1-4c8e-9f59-0a3c1d2b7e10")
	if got := ArtifactKey(id, "subtitles.srt"); got != "jobs/6f1c1a4e-52a1-4c8e-9f59-0a3c1d2b7e10/subtitles.srt" {
		t.Errorf("ArtifactKey = %q", got)
	}
	a, b := UploadPrefix(), UploadPrefix()
	if !strings.HasPrefix(a, "uploads/") || a == b {
		t.Errorf("UploadPrefix = %q, %q", a, b)
	}
}
