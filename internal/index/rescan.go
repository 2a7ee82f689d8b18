package index

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Norio691/claude-relay/internal/model"
)

// rescan implements the full rescan algorithm:
//  1. enumerate child directories of the root
//  2. for each, enumerate files with the configured extension
//  3. stat each file; skip if mtime is unchanged, otherwise re-parse
//  4. remove any id not observed this pass
//  5. persist the cache
func (ix *Index) rescan() {
	projectDirs, err := os.ReadDir(ix.root)
	if err != nil {
		ix.log.Warn("failed to read session root", "root", ix.root, "err", err)
		return
	}

	seen := make(map[string]bool)

	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		projectDir := filepath.Join(ix.root, pd.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			ix.log.Warn("failed to read project dir", "dir", projectDir, "err", err)
			continue
		}

		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ix.extension {
				continue
			}
			path := filepath.Join(projectDir, f.Name())
			info, err := f.Info()
			if err != nil {
				continue
			}

			id := sessionIDFromPath(path)
			seen[id] = true

			mtime := info.ModTime().UnixNano()
			ix.mu.RLock()
			cached, ok := ix.mtimes[path]
			ix.mu.RUnlock()
			if ok && cached == mtime {
				continue
			}

			ix.mu.Lock()
			ix.mtimes[path] = mtime
			ix.mu.Unlock()

			ix.reparseFile(path, info.ModTime())
		}
	}

	ix.mu.Lock()
	for id := range ix.sessions {
		if !seen[id] {
			delete(ix.sessions, id)
		}
	}
	for path := range ix.mtimes {
		if !seen[sessionIDFromPath(path)] {
			delete(ix.mtimes, path)
		}
	}
	entries := ix.snapshotLocked()
	ix.mu.Unlock()

	if err := saveCache(ix.cachePath, entries); err != nil {
		ix.log.Warn("failed to persist session cache", "err", err)
	}
}

// reparseFile re-parses a single log file and upserts its metadata,
// preserving any existing multiplexer_status. Read/stat failures produce
// a placeholder only if the session has no prior metadata; otherwise the
// existing entry is left untouched.
func (ix *Index) reparseFile(path string, mtime time.Time) {
	id := sessionIDFromPath(path)
	projectHash := projectHashFromPath(path)

	info, err := os.Stat(path)
	if err != nil {
		ix.insertPlaceholderIfAbsent(id, projectHash)
		return
	}
	if info.Size() == 0 {
		// Zero-length files produce no metadata.
		return
	}

	pf, err := parseFile(path)
	if err != nil {
		ix.insertPlaceholderIfAbsent(id, projectHash)
		return
	}

	projectPath := pf.ProjectPath
	if projectPath == "" {
		projectPath = synthesizeProjectPath(projectHash)
	}

	ix.mu.Lock()
	existing, hadExisting := ix.sessions[id]
	status := model.StatusNone
	if hadExisting {
		status = existing.MultiplexerStatus
	}
	ix.sessions[id] = model.SessionMetadata{
		ID:                 id,
		ProjectPath:        projectPath,
		ProjectHash:        projectHash,
		LastMessagePreview: pf.LastMessagePreview,
		LastMessageRole:    pf.LastMessageRole,
		Timestamp:          mtime,
		CLIVersion:         pf.CLIVersion,
		MultiplexerStatus:  status,
	}
	ix.mu.Unlock()
}

// insertPlaceholderIfAbsent inserts a degraded placeholder entry for a
// file that could not be read or stat'd, but only if the session has no
// prior metadata.
func (ix *Index) insertPlaceholderIfAbsent(id, projectHash string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.sessions[id]; ok {
		return
	}
	ix.sessions[id] = model.SessionMetadata{
		ID:                 id,
		ProjectPath:        "",
		ProjectHash:        projectHash,
		LastMessagePreview: "(unable to read)",
		LastMessageRole:    model.RoleUnknown,
		Timestamp:          time.Now(),
		MultiplexerStatus:  model.StatusNone,
	}
}

// removeFile drops a session's metadata and mtime cache entry after its
// log file has been unlinked.
func (ix *Index) removeFile(path string) {
	id := sessionIDFromPath(path)
	ix.mu.Lock()
	delete(ix.sessions, id)
	delete(ix.mtimes, path)
	ix.mu.Unlock()
}
