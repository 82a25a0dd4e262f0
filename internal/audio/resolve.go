package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions lists accepted voiceover formats in preference order.
var Extensions = []string{".wav", ".flac", ".mp3", ".m4a", ".ogg", ".webm", ".mp4"}

// IsAudioFile reports whether name carries one of the accepted extensions.
func IsAudioFile(name string) bool {
	return extRank(filepath.Ext(name)) >= 0
}

func extRank(ext string) int {
	ext = strings.ToLower(ext)
	for i, e := range Extensions {
		if e == ext {
			return i
		}
	}
	return -1
}

// FindInDir returns the voiceover file inside a project directory. Hidden
// files are ignored. When several audio files exist the preferred extension
// wins, then the lexically first name.
func FindInDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsAudioFile(e.Name()) {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no audio file in %s", dir)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := extRank(filepath.Ext(candidates[i])), extRank(filepath.Ext(candidates[j]))
		if ri != rj {
			return ri < rj
		}
		return candidates[i] < candidates[j]
	})
	return filepath.Join(dir, candidates[0]), nil
}

// ResolveFile finds an audio file on disk given a stored path.
// Priority: 1) path as given (absolute or cwd-relative)  2) dataDir/path
// 3) basename under dataDir
func ResolveFile(dataDir, path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if dataDir == "" || filepath.IsAbs(path) && !strings.HasPrefix(path, dataDir) {
		return resolveBase(dataDir, path)
	}
	full := filepath.Join(dataDir, path)
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return resolveBase(dataDir, path)
}

func resolveBase(dataDir, path string) string {
	if dataDir == "" {
		return ""
	}
	full := filepath.Join(dataDir, filepath.Base(path))
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}
