// Package subtitle lays aligned words out into timed pages and writes them
// as SRT, WebVTT or ASS.
package subtitle

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Highlight selects how the currently spoken word is marked.
type Highlight string

const (
	HighlightNone    Highlight = "none"
	HighlightWord    Highlight = "word"    // one cue per word, current word styled
	HighlightKaraoke Highlight = "karaoke" // ASS \k timing tags
)

// Layout is the page layout policy shared by all writers.
type Layout struct {
	MaxLineChars    int       `toml:"max_line_chars" json:"max_line_chars"`
	MaxLinesPerPage int       `toml:"max_lines_per_page" json:"max_lines_per_page"`
	WordWindow      int       `toml:"word_window" json:"word_window"` // max words per page, 0 = off
	Highlight       Highlight `toml:"highlight" json:"highlight"`
	MinCueDuration  float64   `toml:"min_cue_duration" json:"min_cue_duration"` // seconds
}

// DefaultPreset is the preset used when none is named.
const DefaultPreset = "default"

//go:embed presets.toml
var builtinPresets []byte

// DefaultLayout returns the built-in "default" preset.
func DefaultLayout() Layout {
	return Layout{
		MaxLineChars:    32,
		MaxLinesPerPage: 2,
		Highlight:       HighlightNone,
		MinCueDuration:  0.3,
	}
}

// Validate rejects layouts the paginator cannot honor.
func (l Layout) Validate() error {
	if l.MaxLineChars < 1 {
		return fmt.Errorf("max_line_chars must be >= 1, got %d", l.MaxLineChars)
	}
	if l.MaxLinesPerPage < 1 {
		return fmt.Errorf("max_lines_per_page must be >= 1, got %d", l.MaxLinesPerPage)
	}
	if l.WordWindow < 0 {
		return fmt.Errorf("word_window must be >= 0, got %d", l.WordWindow)
	}
	if l.MinCueDuration < 0 {
		return fmt.Errorf("min_cue_duration must be >= 0, got %g", l.MinCueDuration)
	}
	switch l.Highlight {
	case HighlightNone, HighlightWord, HighlightKaraoke:
	default:
		return fmt.Errorf("unknown highlight %q", l.Highlight)
	}
	return nil
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.MaxLineChars == 0 {
		l.MaxLineChars = d.MaxLineChars
	}
	if l.MaxLinesPerPage == 0 {
		l.MaxLinesPerPage = d.MaxLinesPerPage
	}
	if l.Highlight == "" {
		l.Highlight = d.Highlight
	}
	return l
}

// Presets maps preset names to layouts.
type Presets map[string]Layout

// BuiltinPresets returns the presets compiled into the binary.
func BuiltinPresets() Presets {
	p, err := decodePresets(strings.NewReader(string(builtinPresets)))
	if err != nil {
		panic("subtitle: invalid built-in presets: " + err.Error())
	}
	return p
}

// LoadPresets returns the built-in presets overlaid with those in path.
// An empty path returns the built-ins.
func LoadPresets(path string) (Presets, error) {
	presets := BuiltinPresets()
	if path == "" {
		return presets, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open presets: %w", err)
	}
	defer f.Close()

	extra, err := decodePresets(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, l := range extra {
		presets[name] = l
	}
	return presets, nil
}

func decodePresets(r io.Reader) (Presets, error) {
	raw := map[string]Layout{}
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	out := make(Presets, len(raw))
	for name, l := range raw {
		l = l.withDefaults()
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		out[name] = l
	}
	return out, nil
}

// Get returns the named preset. An empty name selects DefaultPreset.
func (p Presets) Get(name string) (Layout, error) {
	if name == "" {
		name = DefaultPreset
	}
	l, ok := p[name]
	if !ok {
		return Layout{}, fmt.Errorf("unknown subtitle preset %q (have %s)", name, strings.Join(p.Names(), ", "))
	}
	return l, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
