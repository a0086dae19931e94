package ralph

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"coddy/internal/logging"
)

// recordWatcher signals when a record file under root is written. fsnotify
// is not recursive, so every directory is added and new ones are picked up
// as they appear.
type recordWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	log     *slog.Logger
}

func newRecordWatcher(root string, log *slog.Logger) (*recordWatcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &recordWatcher{watcher: w, root: root, log: logging.OrDiscard(log)}
	if err := rw.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	return rw, nil
}

func (rw *recordWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return rw.watcher.Add(path)
		}
		return nil
	})
}

// run forwards a non-blocking wake-up on wake for every record change until
// ctx is done.
func (rw *recordWatcher) run(ctx context.Context, wake chan<- struct{}) {
	defer rw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := rw.addTree(ev.Name); err != nil {
						rw.log.Warn("watch new directory", "dir", ev.Name, "error", err)
					}
					notify(wake)
					continue
				}
			}
			if isRecordEvent(ev) {
				notify(wake)
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.log.Warn("record watcher error", "error", err)
		}
	}
}

// isRecordEvent matches writes and renames of record files, skipping the
// store's hidden temp files.
func isRecordEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	return strings.HasSuffix(base, ".yaml") && !strings.HasPrefix(base, ".")
}

func notify(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
