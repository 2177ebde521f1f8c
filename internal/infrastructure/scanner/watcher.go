package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettleDelay is how long a file must stay quiet before it is analyzed.
// Exports are written in several chunks and produce a burst of events.
const DefaultSettleDelay = 500 * time.Millisecond

// FileHandler receives files discovered by Watch
type FileHandler func(ctx context.Context, info FileInfo)

// Watch follows the root directory tree and passes every new or rewritten
// candidate file through the same classification as ScanAndAnalyze. A new
// sidecar manifest re-analyzes its data file. Watch blocks until ctx is done.
func (s *Scanner) Watch(ctx context.Context, settle time.Duration, onFile FileHandler) error {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, s.cfg.Root, nil); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.cfg.Root, err)
	}
	s.logger.Info("Watching for collected files", zap.String("root", s.cfg.Root))

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(settle, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			if _, err := os.Stat(path); err != nil {
				return
			}
			onFile(ctx, s.Analyze(path))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					// files may land before the directory watch is registered
					if err := watchDirRecursive(watcher, event.Name, schedule); err != nil {
						s.logger.Warn("Failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
					continue
				}
			}

			switch {
			case IsCandidate(event.Name):
				schedule(event.Name)
			case strings.HasSuffix(event.Name, ManifestSuffix):
				dataFile := strings.TrimSuffix(event.Name, ManifestSuffix)
				if IsCandidate(dataFile) {
					schedule(dataFile)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
// Candidate files already present are passed to found when it is non-nil.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string, found func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		if found != nil && IsCandidate(path) {
			found(path)
		}
		return nil
	})
}
