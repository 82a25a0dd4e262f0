package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFindInDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "script.txt")
	touch(t, dir, ".hidden.wav")
	touch(t, dir, "b.mp3")
	want := touch(t, dir, "take2.WAV")
	touch(t, dir, "take1.flac")

	got, err := FindInDir(dir)
	if err != nil {
		t.Fatalf("FindInDir: %v", err)
	}
	if got != want {
		t.Errorf("FindInDir = %q, want %q", got, want)
	}
}

func TestFindInDir_NoAudio(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "script.txt")
	if _, err := FindInDir(dir); err == nil {
		t.Error("expected error")
	}
	if _, err := FindInDir(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestResolveFile(t *testing.T) {
	dataDir := t.TempDir()
	os.MkdirAll(filepath.Join(dataDir, "jobs", "1"), 0o755)
	stored := touch(t, filepath.Join(dataDir, "jobs", "1"), "voice.wav")
	flat := touch(t, dataDir, "moved.mp3")

	tests := []struct {
		name string
		path string
		want string
	}{
		{"absolute", stored, stored},
		{"relative_to_data_dir", "jobs/1/voice.wav", stored},
		{"basename_fallback", "/elsewhere/moved.mp3", flat},
		{"missing", "jobs/2/none.wav", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveFile(dataDir, tt.path); got != tt.want {
				t.Errorf("ResolveFile(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(`{
		"streams": [
			{"codec_name": "mjpeg", "codec_type": "video"},
			{"codec_name": "mp3", "codec_type": "audio", "sample_rate": "44100", "channels": 2, "duration": "41.5"}
		],
		"format": {"duration": "41.567", "format_name": "mp3"}
	}`))
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Codec != "mp3" || info.SampleRate != 44100 || info.Channels != 2 {
		t.Errorf("stream info = %+v", info)
	}
	if info.Duration != 41.567 {
		t.Errorf("Duration = %v, want format duration", info.Duration)
	}
	if !info.ExceedsLimit(40) || info.ExceedsLimit(0) || info.ExceedsLimit(60) {
		t.Error("ExceedsLimit mismatch")
	}
}

func TestParseProbe_StreamDurationFallback(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio","duration":"3.25"}],"format":{"duration":"N/A"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if info.Duration != 3.25 {
		t.Errorf("Duration = %v, want 3.25", info.Duration)
	}
}

func TestProbe_Missing(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
	if _, err := Probe(context.Background(), filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}
