package subtitle

import (
	"strings"
	"unicode/utf8"

	"github.com/snarg/scriptsync/internal/align"
)

// Page is one on-screen subtitle: up to MaxLinesPerPage wrapped lines shown
// from the earliest word start to the latest word end.
type Page struct {
	Segment int                 `json:"segment"` // index of the source AlignedSegment
	Start   float64             `json:"start"`
	End     float64             `json:"end"`
	Lines   [][]align.TimedWord `json:"lines"`
}

// Words returns the page's words in display order.
func (p Page) Words() []align.TimedWord {
	var out []align.TimedWord
	for _, l := range p.Lines {
		out = append(out, l...)
	}
	return out
}

// Text renders the page as plain text, one display line per text line.
func (p Page) Text() string {
	lines := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = joinWords(l)
	}
	return strings.Join(lines, "\n")
}

func joinWords(words []align.TimedWord) string {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return strings.Join(texts, " ")
}

// Paginate lays out aligned segments into pages. Pages never span two
// segments. With a WordWindow, each page holds at most that many words
// before line wrapping applies. Pages shorter than MinCueDuration are
// stretched, but never into the next page.
func Paginate(segments []align.AlignedSegment, l Layout) []Page {
	l = l.withDefaults()

	var pages []Page
	for si, seg := range segments {
		for _, group := range windows(seg.Words, l.WordWindow) {
			lines := wrap(group, l.MaxLineChars)
			for i := 0; i < len(lines); i += l.MaxLinesPerPage {
				end := i + l.MaxLinesPerPage
				if end > len(lines) {
					end = len(lines)
				}
				pages = append(pages, newPage(si, lines[i:end]))
			}
		}
	}

	for i := range pages {
		if pages[i].End-pages[i].Start >= l.MinCueDuration {
			continue
		}
		target := pages[i].Start + l.MinCueDuration
		if i+1 < len(pages) && pages[i+1].Start < target {
			target = pages[i+1].Start
		}
		if target > pages[i].End {
			pages[i].End = target
		}
	}
	return pages
}

func newPage(segment int, lines [][]align.TimedWord) Page {
	p := Page{Segment: segment, Lines: lines}
	first := true
	for _, line := range lines {
		for _, w := range line {
			if first || w.Start < p.Start {
				p.Start = w.Start
			}
			if first || w.End > p.End {
				p.End = w.End
			}
			first = false
		}
	}
	return p
}

func windows(words []align.TimedWord, size int) [][]align.TimedWord {
	if len(words) == 0 {
		return nil
	}
	if size <= 0 || len(words) <= size {
		return [][]align.TimedWord{words}
	}
	var out [][]align.TimedWord
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, words[i:end])
	}
	return out
}

// wrap greedily fills lines up to maxChars runes, counting one space between
// words. A word longer than maxChars gets a line of its own.
func wrap(words []align.TimedWord, maxChars int) [][]align.TimedWord {
	var lines [][]align.TimedWord
	var cur []align.TimedWord
	width := 0
	for _, w := range words {
		n := utf8.RuneCountInString(w.Text)
		if len(cur) > 0 && width+1+n > maxChars {
			lines = append(lines, cur)
			cur, width = nil, 0
		}
		if len(cur) > 0 {
			width++
		}
		cur = append(cur, w)
		width += n
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}
	return lines
}
