package index

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// run is the watcher/rescan-timer event loop: the root is watched for new
// project directories (depth 1) and each project directory for file
// add/change/unlink (depth 2), debounced before re-parse.
func (ix *Index) run() {
	defer close(ix.doneCh)

	for {
		select {
		case <-ix.stopCh:
			return

		case <-ix.rescanTicker.C:
			ix.rescan()

		case event, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			ix.handleEvent(event)

		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.log.Warn("fsnotify error", "err", err)
		}
	}
}

func (ix *Index) handleEvent(event fsnotify.Event) {
	// A new project directory appearing under the root: start watching it
	// so files created inside are picked up without waiting for a rescan.
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == ix.root {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			ix.addWatch(event.Name)
			return
		}
	}

	if filepath.Ext(event.Name) != ix.extension {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		// Debounce isn't needed for removal; it can't race a partial write.
		ix.cancelDebounce(event.Name)
		ix.removeFile(event.Name)

	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		ix.scheduleReparse(event.Name)
	}
}

// scheduleReparse coalesces rapid write events for one file into a single
// re-parse after a quiescence window, avoiding parsing mid-append states.
func (ix *Index) scheduleReparse(path string) {
	ix.timerMu.Lock()
	defer ix.timerMu.Unlock()

	if t, ok := ix.timers[path]; ok {
		t.Stop()
	}
	ix.timers[path] = time.AfterFunc(ix.debounce, func() {
		ix.timerMu.Lock()
		delete(ix.timers, path)
		ix.timerMu.Unlock()

		info, err := os.Stat(path)
		if err != nil {
			return
		}
		ix.mu.Lock()
		ix.mtimes[path] = info.ModTime().UnixNano()
		ix.mu.Unlock()
		ix.reparseFile(path, info.ModTime())
	})
}

func (ix *Index) cancelDebounce(path string) {
	ix.timerMu.Lock()
	defer ix.timerMu.Unlock()
	if t, ok := ix.timers[path]; ok {
		t.Stop()
		delete(ix.timers, path)
	}
}

func (ix *Index) addWatch(dir string) {
	if ix.watchedDirs[dir] {
		return
	}
	if err := ix.watcher.Add(dir); err != nil {
		ix.log.Warn("failed to watch directory", "dir", dir, "err", err)
		return
	}
	ix.watchedDirs[dir] = true
}

// watchProjectDirs adds a watch for every existing project directory
// under the root at startup.
func (ix *Index) watchProjectDirs() {
	entries, err := os.ReadDir(ix.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			ix.addWatch(filepath.Join(ix.root, e.Name()))
		}
	}
}
