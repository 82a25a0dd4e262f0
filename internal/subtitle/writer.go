package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/snarg/scriptsync/internal/align"
)

// Format is an output subtitle format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
)

// Formats lists every supported format.
var Formats = []Format{FormatSRT, FormatVTT, FormatASS}

// ParseFormat accepts a format name or file extension ("srt", ".vtt").
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatSRT, FormatVTT, FormatASS:
		return f, nil
	}
	return "", fmt.Errorf("unsupported subtitle format %q", s)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatASS:
		return "text/x-ssa; charset=utf-8"
	default:
		return "application/x-subrip"
	}
}

// Write renders pages in format f.
func Write(w io.Writer, f Format, pages []Page, l Layout) error {
	switch f {
	case FormatSRT:
		return WriteSRT(w, pages)
	case FormatVTT:
		return WriteVTT(w, pages, l)
	case FormatASS:
		return WriteASS(w, pages, l)
	}
	return fmt.Errorf("unsupported subtitle format %q", f)
}

// Render paginates segments and renders them in one call.
func Render(segments []align.AlignedSegment, f Format, l Layout) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, Paginate(segments, l), l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ── SRT ──────────────────────────────────────────────────────────────

// WriteSRT writes one numbered cue per page.
func WriteSRT(w io.Writer, pages []Page) error {
	bw := bufio.NewWriter(w)
	for i, p := range pages {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", i+1, srtTimestamp(p.Start), srtTimestamp(p.End), p.Text())
	}
	return bw.Flush()
}

func srtTimestamp(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ── WebVTT ───────────────────────────────────────────────────────────

const vttStyle = "STYLE\n::cue(.hl) {\n  color: #ffd400;\n}\n\n"

// WriteVTT writes a WebVTT file. With word highlighting every page becomes
// one cue per word, each showing the whole page with the current word
// wrapped in <c.hl>.
func WriteVTT(w io.Writer, pages []Page, l Layout) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("WEBVTT\n\n")
	if l.Highlight == HighlightWord {
		bw.WriteString(vttStyle)
	}

	for _, p := range pages {
		if l.Highlight != HighlightWord {
			fmt.Fprintf(bw, "%s --> %s\n%s\n\n", vttTimestamp(p.Start), vttTimestamp(p.End), vttEscape(p.Text()))
			continue
		}
		for _, c := range wordCues(p) {
			fmt.Fprintf(bw, "%s --> %s\n%s\n\n", vttTimestamp(c.start), vttTimestamp(c.end), highlightedText(p, c.index))
		}
	}
	return bw.Flush()
}

func vttTimestamp(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

var vttEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func vttEscape(s string) string { return vttEscaper.Replace(s) }

func highlightedText(p Page, current int) string {
	var b strings.Builder
	n := 0
	for li, line := range p.Lines {
		if li > 0 {
			b.WriteByte('\n')
		}
		for wi, word := range line {
			if wi > 0 {
				b.WriteByte(' ')
			}
			text := vttEscape(word.Text)
			if n == current {
				b.WriteString("<c.hl>" + text + "</c>")
			} else {
				b.WriteString(text)
			}
			n++
		}
	}
	return b.String()
}

type wordCue struct {
	index      int
	start, end float64
}

// wordCues splits a page into contiguous per-word intervals: each word is
// current from its own start (the page start for the first word) until the
// next word starts (the page end for the last word).
func wordCues(p Page) []wordCue {
	words := p.Words()
	cues := make([]wordCue, 0, len(words))
	for i := range words {
		start := words[i].Start
		if i == 0 {
			start = p.Start
		}
		end := p.End
		if i+1 < len(words) {
			end = words[i+1].Start
		}
		if end < start {
			end = start
		}
		cues = append(cues, wordCue{index: i, start: start, end: end})
	}
	return cues
}

// ── ASS ──────────────────────────────────────────────────────────────

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 1080
PlayResY: 1920
WrapStyle: 2
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,64,&H00FFFFFF,&H0000D4FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,3,1,2,60,60,240,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// WriteASS writes an Advanced SubStation Alpha script. With karaoke
// highlighting each word carries a \k tag holding its duration in
// centiseconds, so renderers sweep the secondary colour across the page.
func WriteASS(w io.Writer, pages []Page, l Layout) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(assHeader)
	for _, p := range pages {
		text := assText(p, l.Highlight == HighlightKaraoke)
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assTimestamp(p.Start), assTimestamp(p.End), text)
	}
	return bw.Flush()
}

var assEscaper = strings.NewReplacer("{", "(", "}", ")", "\\", "/", "\n", " ")

func assText(p Page, karaoke bool) string {
	var durations []int
	if karaoke {
		for _, c := range wordCues(p) {
			durations = append(durations, int(math.Round((c.end-c.start)*100)))
		}
	}
	var b strings.Builder
	n := 0
	for li, line := range p.Lines {
		if li > 0 {
			b.WriteString(`\N`)
		}
		for wi, word := range line {
			if wi > 0 {
				b.WriteByte(' ')
			}
			if karaoke {
				fmt.Fprintf(&b, `{\k%d}`, durations[n])
			}
			b.WriteString(assEscaper.Replace(word.Text))
			n++
		}
	}
	return b.String()
}

func assTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int(math.Round(seconds * 100))
	h := cs / 360_000
	cs %= 360_000
	m := cs / 6_000
	cs %= 6_000
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, cs/100, cs%100)
}

func splitMillis(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds*1000 + 0.5)
	h = total / 3_600_000
	total %= 3_600_000
	m = total / 60_000
	total %= 60_000
	return h, m, total / 1_000, total % 1_000
}
