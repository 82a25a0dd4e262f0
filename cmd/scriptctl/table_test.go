package main

import (
	"strings"
	"testing"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "x"}}, []columnAlignment{alignRight})
	for _, want := range []string{"A", "B", "1", "2", "x"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("no headers should render nothing")
	}
}

func TestReportTable(t *testing.T) {
	rep := align.Report{
		Strategy:        align.StrategyFuzzy,
		ScriptLines:     3,
		ScriptTokens:    10,
		TranscriptWords: 8,
		DroppedLines:    []int{2},
		Mismatch:        &align.WordCountMismatch{TranscriptWords: 8, ScriptTokens: 10},
	}
	out := reportTable(rep, database.StatusNeedsReview)
	for _, want := range []string{"needs_review", "fuzzy", "dropped lines", "-2 (20%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestStatsTable(t *testing.T) {
	out := statsTable(&database.JobStats{
		Counts:            map[database.JobStatus]int{database.StatusCompleted: 4},
		AvgRunSeconds:     2.5,
		AvgMatchRatio:     0.9,
		TotalAudioSeconds: 90,
	})
	for _, want := range []string{"completed", "4", "2.50s", "90.0%", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ééééé", 3); got != "éé…" {
		t.Errorf("truncate = %q, want rune-safe cut", got)
	}
}
