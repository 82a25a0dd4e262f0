package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/timeline"
)

// ── Helpers ─────────────────────────────────────────────────────────

const testTranscript = `{"words": [
	{"word": "Hello", "start": 0.0, "end": 0.4},
	{"word": "world", "start": 0.5, "end": 0.9},
	{"word": "second", "start": 1.2, "end": 1.6},
	{"word": "line", "start": 1.7, "end": 2.0}
]}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUBTITLE_PRESETS", "")
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func alignFixture(t *testing.T) (scriptPath, transcriptPath string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "script.txt", "Hello world\nSecond line\n"),
		writeFile(t, dir, "transcript.json", testTranscript)
}

// ── align ───────────────────────────────────────────────────────────

func TestAlign_JSON(t *testing.T) {
	scriptPath, transcriptPath := alignFixture(t)

	stdout, stderr, err := runCLI(t, "align", "-s", scriptPath, "-t", transcriptPath)
	if err != nil {
		t.Fatalf("align: %v", err)
	}

	var result align.Result
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, stdout)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(result.Segments))
	}
	if result.Segments[1].ScriptLine != "Second line" || result.Segments[1].Start != 1.2 {
		t.Errorf("segment 2 = %+v", result.Segments[1])
	}
	if result.Report.Strategy != align.StrategyExact {
		t.Errorf("strategy = %q, want exact", result.Report.Strategy)
	}
	if !strings.Contains(stderr, "completed") || !strings.Contains(stderr, "exact") {
		t.Errorf("diagnostics missing from stderr:\n%s", stderr)
	}
}

func TestAlign_SRTToFile(t *testing.T) {
	scriptPath, transcriptPath := alignFixture(t)
	out := filepath.Join(t.TempDir(), "subs", "out.srt")

	stdout, _, err := runCLI(t, "align", "-s", scriptPath, "-t", transcriptPath, "-f", "srt", "-o", out, "-q")
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if stdout != "" {
		t.Errorf("stdout should be empty when -o is set, got %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "1\n00:00:00,000 --> ") {
		t.Errorf("unexpected srt:\n%s", data)
	}
}

func TestAlign_Errors(t *testing.T) {
	scriptPath, transcriptPath := alignFixture(t)
	empty := writeFile(t, t.TempDir(), "empty.txt", "\n\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no transcript or audio", []string{"align", "-s", scriptPath}, "transcript"},
		{"both inputs", []string{"align", "-s", scriptPath, "-t", transcriptPath, "-a", "x.wav"}, "audio"},
		{"bad format", []string{"align", "-s", scriptPath, "-t", transcriptPath, "-f", "docx"}, "docx"},
		{"bad preset", []string{"align", "-s", scriptPath, "-t", transcriptPath, "--preset", "nope"}, "nope"},
		{"bad threshold", []string{"align", "-s", scriptPath, "-t", transcriptPath, "--threshold", "1.5"}, "threshold"},
		{"empty script", []string{"align", "-s", empty, "-t", transcriptPath}, "no lines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

// ── timeline ────────────────────────────────────────────────────────

func TestTimeline_FromAlignOutput(t *testing.T) {
	scriptPath, transcriptPath := alignFixture(t)
	resultPath := filepath.Join(t.TempDir(), "result.json")
	if _, _, err := runCLI(t, "align", "-s", scriptPath, "-t", transcriptPath, "-o", resultPath, "-q"); err != nil {
		t.Fatalf("align: %v", err)
	}

	stdout, _, err := runCLI(t, "timeline", resultPath, "--speed", "2")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	var slides []timeline.Slide
	if err := json.Unmarshal([]byte(stdout), &slides); err != nil {
		t.Fatalf("output is not slides: %v\n%s", err, stdout)
	}
	if len(slides) != 2 {
		t.Fatalf("slides = %d, want 2", len(slides))
	}
	if slides[0].Start != 0 || slides[0].End != 0.6 {
		t.Errorf("slide 1 = %+v, want 0 → 0.6 at 2x", slides[0])
	}
}

func TestTimeline_FFConcat(t *testing.T) {
	dir := t.TempDir()
	segs := `[{"script_line":"a","start":0,"end":1,"words":[]},{"script_line":"b","start":1.5,"end":3,"words":[]}]`
	segPath := writeFile(t, dir, "segments.json", segs)
	imgDir := filepath.Join(dir, "slides")
	os.Mkdir(imgDir, 0o755)
	writeFile(t, imgDir, "2.png", "")
	writeFile(t, imgDir, "1.png", "")

	stdout, _, err := runCLI(t, "timeline", segPath, "--images", imgDir, "-f", "ffconcat")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if !strings.HasPrefix(stdout, "ffconcat version 1.0\n") {
		t.Errorf("missing header:\n%s", stdout)
	}
	first := strings.Index(stdout, "1.png")
	second := strings.Index(stdout, "2.png")
	if first < 0 || second < first {
		t.Errorf("images out of order:\n%s", stdout)
	}
	if !strings.Contains(stdout, "duration 1.500") {
		t.Errorf("first slide should last until the second line starts:\n%s", stdout)
	}
}

func TestTimeline_FFConcatNeedsImages(t *testing.T) {
	segPath := writeFile(t, t.TempDir(), "s.json", `[{"script_line":"a","start":0,"end":1,"words":[]}]`)
	if _, _, err := runCLI(t, "timeline", segPath, "-f", "ffconcat"); err == nil {
		t.Error("expected error without --images")
	}
}

// ── db ──────────────────────────────────────────────────────────────

func TestDB_RequiresURL(t *testing.T) {
	_, _, err := runCLI(t, "db", "stats")
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("err = %v, want DATABASE_URL error", err)
	}
}
