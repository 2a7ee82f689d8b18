package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Norio691/claude-relay/internal/model"
)

// cacheVersion is bumped whenever the persisted cache schema changes
// incompatibly. Load rejects any file whose version does not match.
const cacheVersion = 1

// cacheEntry is the persisted form of one session's metadata. Timestamps
// are ISO-8601 via time.Time's default JSON encoding. mtime is
// deliberately not part of this schema: the first
// rescan after loading a cache always re-parses every file.
type cacheEntry struct {
	ID                 string      `json:"id"`
	ProjectPath        string      `json:"project_path"`
	ProjectHash        string      `json:"project_hash"`
	LastMessagePreview string      `json:"last_message_preview"`
	LastMessageRole    model.Role  `json:"last_message_role"`
	Timestamp          time.Time   `json:"timestamp"`
	CLIVersion         string      `json:"cli_version"`
}

// cacheFile is the on-disk document written to <config_dir>/session-cache.json.
type cacheFile struct {
	Version      int          `json:"version"`
	Entries      []cacheEntry `json:"entries"`
	LastFullScan time.Time    `json:"last_full_scan"`
}

// loadCache reads and validates the persisted cache at path. A missing
// file, a version mismatch, or a parse failure are all treated as "no
// cache" -- the caller falls back to a cold full rescan. multiplexer_status
// is always reset to "none" on load; it is advisory and re-derived live.
func loadCache(path string) ([]model.SessionMetadata, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, false
	}
	if cf.Version != cacheVersion {
		return nil, false
	}

	out := make([]model.SessionMetadata, 0, len(cf.Entries))
	for _, e := range cf.Entries {
		out = append(out, model.SessionMetadata{
			ID:                 e.ID,
			ProjectPath:        e.ProjectPath,
			ProjectHash:        e.ProjectHash,
			LastMessagePreview: e.LastMessagePreview,
			LastMessageRole:    e.LastMessageRole,
			Timestamp:          e.Timestamp,
			CLIVersion:         e.CLIVersion,
			MultiplexerStatus:  model.StatusNone,
		})
	}
	return out, true
}

// saveCache writes the cache atomically (temp file + rename), mode 0600
// inside a 0700 parent directory.
func saveCache(path string, entries []model.SessionMetadata) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}

	cf := cacheFile{
		Version:      cacheVersion,
		LastFullScan: time.Now(),
	}
	for _, m := range entries {
		cf.Entries = append(cf.Entries, cacheEntry{
			ID:                 m.ID,
			ProjectPath:        m.ProjectPath,
			ProjectHash:        m.ProjectHash,
			LastMessagePreview: m.LastMessagePreview,
			LastMessageRole:    m.LastMessageRole,
			Timestamp:          m.Timestamp,
			CLIVersion:         m.CLIVersion,
		})
	}

	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return os.Rename(tmp, path)
}
