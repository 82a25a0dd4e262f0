// Package script loads the authoritative line-oriented script that
// transcripts are aligned against.
package script

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/snarg/scriptsync/internal/align"
)

// FileName is the script file expected inside an inbox project directory.
const FileName = "script.txt"

// maxLineBytes bounds a single script line. Subtitle lines are short; this
// only guards against binary files passed by mistake.
const maxLineBytes = 64 * 1024

var bom = []byte{0xEF, 0xBB, 0xBF}

// Parse reads one subtitle line per text line. Lines are trimmed, blank lines
// are skipped, a leading UTF-8 BOM is stripped and CRLF endings are accepted.
// A script without any non-blank line returns align.ErrEmptyScript.
func Parse(r io.Reader) ([]align.ScriptLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	var lines []align.ScriptLine
	first := true
	for sc.Scan() {
		b := sc.Bytes()
		if first {
			b = bytes.TrimPrefix(b, bom)
			first = false
		}
		raw := strings.TrimSpace(string(b))
		if raw == "" {
			continue
		}
		lines = append(lines, align.NewScriptLine(raw))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(lines) == 0 {
		return nil, align.ErrEmptyScript
	}
	return lines, nil
}

// Load parses the script file at path.
func Load(path string) ([]align.ScriptLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}

// FromText parses a script held in memory, e.g. an API payload.
func FromText(s string) ([]align.ScriptLine, error) {
	return Parse(strings.NewReader(s))
}

// FromLines builds a script from already-split lines, applying the same
// trimming and blank-line rules as Parse.
func FromLines(raw []string) ([]align.ScriptLine, error) {
	var lines []align.ScriptLine
	for _, r := range raw {
		for _, part := range strings.Split(r, "\n") {
			if t := strings.TrimSpace(part); t != "" {
				lines = append(lines, align.NewScriptLine(t))
			}
		}
	}
	if len(lines) == 0 {
		return nil, align.ErrEmptyScript
	}
	return lines, nil
}

// Text joins the raw lines back into a newline-terminated script.
func Text(lines []align.ScriptLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	return b.String()
}
