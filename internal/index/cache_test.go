package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Norio691/claude-relay/internal/model"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-cache.json")

	want := []model.SessionMetadata{
		{
			ID:                 "11111111-1111-1111-1111-111111111111",
			ProjectPath:        "/Users/x/app",
			ProjectHash:        "-Users-x-app",
			LastMessagePreview: "hello",
			LastMessageRole:    model.RoleUser,
			Timestamp:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			CLIVersion:         "2.1.37",
			MultiplexerStatus:  model.StatusActive,
		},
	}

	if err := saveCache(path, want); err != nil {
		t.Fatalf("saveCache: %v", err)
	}

	got, ok := loadCache(path)
	if !ok {
		t.Fatal("loadCache: expected a cache to load")
	}
	if len(got) != 1 {
		t.Fatalf("loadCache: expected 1 entry, got %d", len(got))
	}

	entry := got[0]
	if entry.ID != want[0].ID ||
		entry.ProjectPath != want[0].ProjectPath ||
		entry.ProjectHash != want[0].ProjectHash ||
		entry.LastMessagePreview != want[0].LastMessagePreview ||
		entry.LastMessageRole != want[0].LastMessageRole ||
		!entry.Timestamp.Equal(want[0].Timestamp) ||
		entry.CLIVersion != want[0].CLIVersion {
		t.Errorf("loadCache round trip mismatch: got %+v, want %+v (status ignored)", entry, want[0])
	}

	// multiplexer_status is advisory and always reset on load, regardless
	// of what was persisted.
	if entry.MultiplexerStatus != model.StatusNone {
		t.Errorf("MultiplexerStatus = %q, want %q after load", entry.MultiplexerStatus, model.StatusNone)
	}
}

func TestLoadCacheMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, ok := loadCache(filepath.Join(dir, "does-not-exist.json"))
	if ok {
		t.Error("loadCache: expected ok=false for a missing file")
	}
}

func TestLoadCacheRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-cache.json")

	data, err := json.Marshal(cacheFile{Version: cacheVersion + 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, ok := loadCache(path)
	if ok {
		t.Error("loadCache: expected ok=false for a version mismatch")
	}
}

func TestLoadCacheRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-cache.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, ok := loadCache(path)
	if ok {
		t.Error("loadCache: expected ok=false for malformed JSON")
	}
}
