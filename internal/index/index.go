// Package index maintains a live, queryable view of every session whose
// log file exists under a configured root directory.
package index

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/Norio691/claude-relay/internal/model"
)

const (
	defaultExtension     = ".jsonl"
	defaultRescanPeriod  = 120 * time.Second
	defaultDebounce      = 500 * time.Millisecond
)

// Index is the in-memory session map kept in sync with a directory tree
// of append-only log files, via a recursive watcher, a periodic full
// rescan, and a persisted cache across restarts.
type Index struct {
	root      string
	extension string
	cachePath string

	rescanPeriod time.Duration
	debounce     time.Duration

	log *log.Logger

	mu       sync.RWMutex
	sessions map[string]model.SessionMetadata
	mtimes   map[string]int64 // absolute file path -> mtime unix nanos

	watcher     *fsnotify.Watcher
	watchedDirs map[string]bool

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	rescanTicker *time.Ticker
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// New constructs an Index over root, persisting its cache at cachePath.
func New(root, cachePath string, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.Default()
	}
	return &Index{
		root:         root,
		extension:    defaultExtension,
		cachePath:    cachePath,
		rescanPeriod: defaultRescanPeriod,
		debounce:     defaultDebounce,
		log:          logger.WithPrefix("index"),
		sessions:     make(map[string]model.SessionMetadata),
		mtimes:       make(map[string]int64),
		watchedDirs:  make(map[string]bool),
		timers:       make(map[string]*time.Timer),
	}
}

// Start loads the persisted cache (if present and of a supported version),
// runs an initial full rescan, subscribes to the directory watcher, and
// installs the periodic full-rescan timer.
func (ix *Index) Start() error {
	if entries, ok := loadCache(ix.cachePath); ok {
		ix.mu.Lock()
		for _, m := range entries {
			ix.sessions[m.ID] = m
		}
		ix.mu.Unlock()
		ix.log.Info("loaded session cache", "entries", len(entries))
	}

	if err := os.MkdirAll(ix.root, 0o755); err != nil {
		ix.log.Warn("failed to ensure session root exists", "root", ix.root, "err", err)
	}

	ix.rescan()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ix.watcher = watcher
	ix.addWatch(ix.root)
	ix.watchProjectDirs()

	ix.stopCh = make(chan struct{})
	ix.doneCh = make(chan struct{})
	ix.rescanTicker = time.NewTicker(ix.rescanPeriod)

	go ix.run()
	return nil
}

// Stop cancels the watcher and the rescan timer and flushes the cache.
func (ix *Index) Stop() {
	if ix.stopCh != nil {
		close(ix.stopCh)
		<-ix.doneCh
	}
	if ix.rescanTicker != nil {
		ix.rescanTicker.Stop()
	}
	if ix.watcher != nil {
		ix.watcher.Close()
	}

	ix.timerMu.Lock()
	for _, t := range ix.timers {
		t.Stop()
	}
	ix.timerMu.Unlock()

	ix.mu.RLock()
	entries := ix.snapshotLocked()
	ix.mu.RUnlock()
	if err := saveCache(ix.cachePath, entries); err != nil {
		ix.log.Warn("failed to flush session cache", "err", err)
	}
}

// List returns all metadata ordered by Timestamp descending.
func (ix *Index) List() []model.SessionMetadata {
	ix.mu.RLock()
	entries := ix.snapshotLocked()
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}

// Get is a constant-time lookup by session id.
func (ix *Index) Get(id string) (model.SessionMetadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.sessions[id]
	return m, ok
}

// ByProject groups metadata by project_path (falling back to
// project_hash when the path is empty), each list sorted by Timestamp
// descending.
func (ix *Index) ByProject() map[string][]model.SessionMetadata {
	ix.mu.RLock()
	entries := ix.snapshotLocked()
	ix.mu.RUnlock()

	grouped := make(map[string][]model.SessionMetadata)
	for _, m := range entries {
		key := m.ProjectPath
		if key == "" {
			key = m.ProjectHash
		}
		grouped[key] = append(grouped[key], m)
	}
	for key := range grouped {
		list := grouped[key]
		sort.Slice(list, func(i, j int) bool {
			return list[i].Timestamp.After(list[j].Timestamp)
		})
		grouped[key] = list
	}
	return grouped
}

// SetMultiplexerStatus updates the advisory status field for id, if known.
func (ix *Index) SetMultiplexerStatus(id string, status model.MultiplexerStatus) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if m, ok := ix.sessions[id]; ok {
		m.MultiplexerStatus = status
		ix.sessions[id] = m
	}
}

func (ix *Index) snapshotLocked() []model.SessionMetadata {
	out := make([]model.SessionMetadata, 0, len(ix.sessions))
	for _, m := range ix.sessions {
		out = append(out, m)
	}
	return out
}

// sessionIDFromPath returns the basename of path without its extension,
// which is byte-for-byte the session id.
func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// projectHashFromPath returns the basename of path's containing directory.
func projectHashFromPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}
