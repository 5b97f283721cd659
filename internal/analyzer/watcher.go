package analyzer

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce batches filesystem event bursts into one re-analysis.
const watchDebounce = 2 * time.Second

// Watch re-analyzes root whenever files under it change. It blocks
// until ctx is done. Directories created while watching are added to
// the watch set.
func (a *Analyzer) Watch(ctx context.Context, root string) error {
	root, _, err := a.prepare(root)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := a.addWatchDirs(watcher, root); err != nil {
		return err
	}

	a.logger.Info("watching for changes", zap.String("root", root))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				_ = a.addWatchDirs(watcher, event.Name)
			}

			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil

			summary, err := a.AnalyzeAndStore(ctx, root)
			if err != nil {
				a.logger.Error("re-analysis failed", zap.Error(err))
				continue
			}
			a.logger.Info("re-analysis complete",
				zap.Int("files", summary.FilesAnalyzed),
				zap.Int("chunks", summary.ChunksStored))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// addWatchDirs registers path and every non-ignored directory under it.
func (a *Analyzer) addWatchDirs(watcher *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Races with deletions are expected while watching.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if a.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}
