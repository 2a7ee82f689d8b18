package api

import (
	"github.com/gorilla/websocket"

	"github.com/Norio691/claude-relay/internal/model"
)

// fakeIndex is a minimal sessionIndex for handler tests.
type fakeIndex struct {
	entries map[string]model.SessionMetadata
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]model.SessionMetadata)}
}

func (f *fakeIndex) List() []model.SessionMetadata {
	out := make([]model.SessionMetadata, 0, len(f.entries))
	for _, m := range f.entries {
		out = append(out, m)
	}
	return out
}

func (f *fakeIndex) Get(id string) (model.SessionMetadata, bool) {
	m, ok := f.entries[id]
	return m, ok
}

func (f *fakeIndex) ByProject() map[string][]model.SessionMetadata {
	grouped := make(map[string][]model.SessionMetadata)
	for _, m := range f.entries {
		grouped[m.ProjectPath] = append(grouped[m.ProjectPath], m)
	}
	return grouped
}

// fakeManager is a minimal multiplexerManager that records how many times
// each method is called, so tests can assert Attach is not re-invoked by
// the WebSocket path.
type fakeManager struct {
	tabName      string
	attachErr    error
	attachCalls  int
	tabNameCalls int
}

func (f *fakeManager) TabName(id string) string {
	f.tabNameCalls++
	return f.tabName
}

func (f *fakeManager) Attach(id string) (string, bool, error) {
	f.attachCalls++
	return f.tabName, false, f.attachErr
}

func (f *fakeManager) ListAll() ([]model.TabDescriptor, error) { return nil, nil }
func (f *fakeManager) ListOurs() ([]model.TabDescriptor, error) { return nil, nil }

// fakeBridges is a minimal bridgeRegistry that records its Attach calls
// instead of spawning a real PTY. attached fires once per call, so a test
// dialing concurrently with the server handler can wait for the call to
// land before asserting on it.
type fakeBridges struct {
	active      map[string]bool
	attachCalls int
	lastTabName string
	attached    chan struct{}
}

func newFakeBridges() *fakeBridges {
	return &fakeBridges{active: make(map[string]bool), attached: make(chan struct{}, 16)}
}

func (f *fakeBridges) HasActive(id string) bool { return f.active[id] }

func (f *fakeBridges) Attach(id, tabName string, conn *websocket.Conn, cols, rows int) {
	f.attachCalls++
	f.lastTabName = tabName
	f.attached <- struct{}{}
}
