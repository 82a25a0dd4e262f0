package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Info is the subset of ffprobe output the pipeline cares about.
type Info struct {
	Duration   float64 // seconds, 0 when unknown
	Codec      string
	SampleRate int
	Channels   int
	FormatName string
}

type probeResult struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

var (
	ffprobeOnce  sync.Once
	ffprobeFound bool
)

// HasFFprobe returns whether ffprobe is available in PATH. Result is cached.
func HasFFprobe() bool {
	ffprobeOnce.Do(func() {
		_, err := exec.LookPath("ffprobe")
		ffprobeFound = err == nil
	})
	return ffprobeFound
}

// Probe runs ffprobe against path.
func Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, errors.New("ffprobe: empty path")
	}
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(data []byte) (Info, error) {
	var r probeResult
	if err := json.Unmarshal(data, &r); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	info := Info{
		Duration:   parseFloat(r.Format.Duration),
		FormatName: r.Format.FormatName,
	}
	for _, s := range r.Streams {
		if !strings.EqualFold(s.CodecType, "audio") {
			continue
		}
		info.Codec = s.CodecName
		info.Channels = s.Channels
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		if info.Duration == 0 {
			info.Duration = parseFloat(s.Duration)
		}
		break
	}
	return info, nil
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// ExceedsLimit reports whether a probed duration is longer than max seconds.
// A zero max or unknown duration never exceeds.
func (i Info) ExceedsLimit(max float64) bool {
	return max > 0 && i.Duration > max
}
