// Package timeline turns aligned segments into a slide schedule for video
// composition: one image per script line, shown until the next line starts.
package timeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/snarg/scriptsync/internal/align"
)

// MaxSpeed is the fastest playback factor Build accepts.
const MaxSpeed = 4.0

// Slide is one image's time span in the output video, in seconds.
type Slide struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Line     string  `json:"line"`
}

var (
	ErrNoSlides     = errors.New("timeline: slide count must be >= 1")
	ErrInvalidSpeed = errors.New("timeline: speed must be in (0, 4]")
)

// Build schedules slideCount slides over segments. Slide i starts at segment
// i's start and ends where segment i+1 starts; the slide for the final segment
// ends at that segment's end. Segments beyond slideCount are ignored, and
// surplus slides get nothing. Times are divided by speed so the schedule
// matches audio played back at that rate.
func Build(segments []align.AlignedSegment, slideCount int, speed float64) ([]Slide, error) {
	if slideCount < 1 {
		return nil, ErrNoSlides
	}
	if !(speed > 0 && speed <= MaxSpeed) {
		return nil, ErrInvalidSpeed
	}

	n := slideCount
	if n > len(segments) {
		n = len(segments)
	}
	slides := make([]Slide, 0, n)
	for i := 0; i < n; i++ {
		start := segments[i].Start
		end := segments[i].End
		if i+1 < len(segments) {
			end = segments[i+1].Start
		}
		if end < start {
			end = start
		}
		s := Slide{
			Index: i,
			Start: start / speed,
			End:   end / speed,
			Line:  segments[i].ScriptLine,
		}
		s.Duration = s.End - s.Start
		slides = append(slides, s)
	}
	return slides, nil
}

// WriteConcat writes an ffmpeg ffconcat playlist pairing slides with images.
// The playlist starts at t=0, so the first image also covers the lead-in
// before slides[0].Start and every later image appears at its slide's Start.
// The final image is listed twice because the concat demuxer ignores the
// duration of the last entry.
func WriteConcat(w io.Writer, slides []Slide, images []string) error {
	if len(images) < len(slides) {
		return fmt.Errorf("timeline: %d slides but only %d images", len(slides), len(images))
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("ffconcat version 1.0\n")
	for i, s := range slides {
		d := s.Duration
		if i == 0 {
			d = s.End
		}
		fmt.Fprintf(bw, "file %s\nduration %s\n", quoteConcat(images[i]), strconv.FormatFloat(d, 'f', 3, 64))
	}
	if len(slides) > 0 {
		fmt.Fprintf(bw, "file %s\n", quoteConcat(images[len(slides)-1]))
	}
	return bw.Flush()
}

// quoteConcat single-quotes a path for the concat demuxer.
func quoteConcat(path string) string {
	return "'" + strings.ReplaceAll(filepath.ToSlash(path), "'", `'\''`) + "'"
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true}

// ListImages returns the slide images in dir. Files named by number
// (1.png, 2.png, 10.png) sort numerically and come first; any others follow
// in name order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, okI := numericStem(names[i])
		nj, okJ := numericStem(names[j])
		switch {
		case okI && okJ && ni != nj:
			return ni < nj
		case okI != okJ:
			return okI
		}
		return names[i] < names[j]
	})
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

func numericStem(name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
	return n, err == nil
}
