package runtime

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"logcore/pkg/pipeline"
)

// WatchPersistDir watches the directory holding the runtime's persist
// file for changes made outside this process — an external rotation,
// backup restore, or deletion of the state file — and broadcasts the
// corresponding pipeline.Event to every pipe so file-backed pipes can
// react (§4.6 notify: "file deleted", "reopen files"). It runs until ctx
// is cancelled; a watcher setup failure is returned, a steady-state
// watch error is logged and ignored.
func (r *Runtime) WatchPersistDir(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(r.persistPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(r.persistPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				r.Pipeline.NotifyAll(pipeline.EventFileDeleted)
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				r.Pipeline.NotifyAll(pipeline.EventReopenFiles)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(werr).Warn("persist directory watch error")
		}
	}
}
