package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

var (
	soxOnce      sync.Once
	soxAvailable bool
)

// CheckSox reports whether sox is in PATH. The lookup runs once.
func CheckSox() bool {
	soxOnce.Do(func() {
		_, err := exec.LookPath("sox")
		soxAvailable = err == nil
	})
	return soxAvailable
}

// Preprocess converts audio into what speech models expect using sox:
//   - 16 kHz mono
//   - highpass at 60 Hz to drop rumble and mic handling noise
//   - peak normalization
//
// Returns the path to a temporary WAV file and a cleanup function.
// If sox is unavailable, returns the original path with a no-op cleanup.
func Preprocess(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		return inputPath, noop, nil
	}

	tmp, err := os.CreateTemp("", "scriptsync-preprocess-*.wav")
	if err != nil {
		return inputPath, noop, fmt.Errorf("create temp: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
		"highpass", "60",
		"norm",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return inputPath, noop, fmt.Errorf("sox preprocess: %w: %s", err, out)
	}

	return outPath, func() { os.Remove(outPath) }, nil
}

// Preprocessing wraps a Provider so every request goes through Preprocess
// first. Preprocessing failures fall back to the original audio.
type Preprocessing struct {
	Provider
	OnError func(error)
}

func (p Preprocessing) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	processed, cleanup, err := Preprocess(ctx, audioPath)
	if err != nil && p.OnError != nil {
		p.OnError(err)
	}
	defer cleanup()
	return p.Provider.Transcribe(ctx, processed, opts)
}
