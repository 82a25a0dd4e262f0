package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachePruner evicts old files from the local cache. The remote retains
// everything; the pruner only touches local disk, and only after verifying
// the object exists remotely.
type CachePruner struct {
	cacheDir  string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	remote    ObjectStore
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewCachePruner creates a cache pruner that evicts files by age and/or size.
func NewCachePruner(cacheDir string, retention time.Duration, maxGB int, remote ObjectStore, log zerolog.Logger) *CachePruner {
	return &CachePruner{
		cacheDir:  cacheDir,
		retention: retention,
		maxBytes:  int64(maxGB) * 1024 * 1024 * 1024,
		interval:  1 * time.Hour,
		remote:    remote,
		log:       log.With().Str("component", "cache-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *CachePruner) Start() {
	go p.loop()
}

func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *CachePruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

// PruneResult summarizes one prune pass.
type PruneResult struct {
	Pruned          int
	FreedBytes      int64
	RemainingBytes  int64
	SkippedNotSaved int
}

func (p *CachePruner) prune() PruneResult {
	var res PruneResult
	if p.retention == 0 && p.maxBytes == 0 {
		return res
	}

	cutoff := time.Now().Add(-p.retention)
	var totalSize int64

	type fileEntry struct {
		path    string
		key     string
		modTime time.Time
		size    int64
	}
	var files []fileEntry

	filepath.WalkDir(p.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.cacheDir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, fileEntry{
			path:    path,
			key:     filepath.ToSlash(rel),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
		totalSize += info.Size()
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		shouldPrune := false

		if p.retention > 0 && f.modTime.Before(cutoff) {
			shouldPrune = true
		}
		if p.maxBytes > 0 && totalSize > p.maxBytes {
			shouldPrune = true
		}
		if !shouldPrune {
			continue
		}

		if p.remote != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			saved := p.remote.Exists(ctx, f.key)
			cancel()
			if !saved {
				res.SkippedNotSaved++
				p.log.Warn().Str("key", f.key).Msg("skipping prune: object not in remote store")
				continue
			}
		}
		if err := os.Remove(f.path); err == nil {
			res.Pruned++
			res.FreedBytes += f.size
			totalSize -= f.size
		}
	}

	removeEmptyDirs(p.cacheDir)
	res.RemainingBytes = totalSize

	if res.Pruned > 0 || res.SkippedNotSaved > 0 {
		p.log.Info().
			Int("pruned", res.Pruned).
			Str("freed", humanizeBytes(res.FreedBytes)).
			Str("remaining", humanizeBytes(totalSize)).
			Int("skipped_not_in_remote", res.SkippedNotSaved).
			Msg("cache prune complete")
	}
	return res
}

// removeEmptyDirs deletes empty directories below root, deepest first.
// root itself is kept.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
