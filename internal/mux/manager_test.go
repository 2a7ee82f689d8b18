package mux

import (
	"errors"
	"sync"
	"testing"

	"github.com/Norio691/claude-relay/internal/apierr"
	"github.com/Norio691/claude-relay/internal/model"
)

type fakeMultiplexer struct {
	mu      sync.Mutex
	tabs    map[string]model.TabDescriptor
	createN int
}

func newFakeMultiplexer() *fakeMultiplexer {
	return &fakeMultiplexer{tabs: make(map[string]model.TabDescriptor)}
}

func (f *fakeMultiplexer) listAll() ([]model.TabDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TabDescriptor
	for _, t := range f.tabs {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeMultiplexer) exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tabs[name]
	return ok
}

func (f *fakeMultiplexer) create(name, id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createN++
	f.tabs[name] = model.TabDescriptor{Name: name}
	return nil
}

func (f *fakeMultiplexer) kill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tabs, name)
}

func newTestManager(fm *fakeMultiplexer) *Manager {
	m := New(Config{
		Prefix:      "claude",
		CLIBinary:   "claude",
		DefaultCols: 120,
		DefaultRows: 40,
		MaxSessions: 2,
	}, func(string) bool { return false }, nil)
	m.tmux = fm
	m.processConflict = func(string, string) bool { return false }
	m.killOrphans = func(string) {}
	return m
}

func TestAttachCreatesNewTab(t *testing.T) {
	fm := newFakeMultiplexer()
	m := newTestManager(fm)

	name, existed, err := m.Attach("session-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if existed {
		t.Errorf("existed = true, want false for a fresh tab")
	}
	if name != "claude-session-1" {
		t.Errorf("name = %q, want claude-session-1", name)
	}
	if fm.createN != 1 {
		t.Errorf("createN = %d, want 1", fm.createN)
	}
}

func TestAttachReturnsExistedForLiveTab(t *testing.T) {
	fm := newFakeMultiplexer()
	fm.tabs["claude-session-1"] = model.TabDescriptor{Name: "claude-session-1"}
	m := newTestManager(fm)

	name, existed, err := m.Attach("session-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !existed {
		t.Errorf("existed = false, want true for a pre-existing tab")
	}
	if name != "claude-session-1" {
		t.Errorf("name = %q", name)
	}
	if fm.createN != 0 {
		t.Errorf("createN = %d, want 0 (no create call for an existing tab)", fm.createN)
	}
}

func TestAttachFailsWhenAlreadyBridged(t *testing.T) {
	fm := newFakeMultiplexer()
	m := newTestManager(fm)
	m.hasActive = func(id string) bool { return id == "session-1" }

	_, _, err := m.Attach("session-1")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != apierr.CodeSessionAttached {
		t.Fatalf("Attach error = %v, want SESSION_ATTACHED", err)
	}
}

func TestAttachFailsOnProcessConflict(t *testing.T) {
	fm := newFakeMultiplexer()
	m := newTestManager(fm)
	m.processConflict = func(string, string) bool { return true }

	_, _, err := m.Attach("session-1")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != apierr.CodeSessionConflict {
		t.Fatalf("Attach error = %v, want SESSION_CONFLICT", err)
	}
}

func TestAttachFailsAtMaxSessions(t *testing.T) {
	fm := newFakeMultiplexer()
	fm.tabs["claude-a"] = model.TabDescriptor{Name: "claude-a"}
	fm.tabs["claude-b"] = model.TabDescriptor{Name: "claude-b"}
	m := newTestManager(fm) // MaxSessions: 2

	_, _, err := m.Attach("session-c")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != apierr.CodeMaxSessions {
		t.Fatalf("Attach error = %v, want MAX_SESSIONS", err)
	}
}

func TestAttachAtMaxSessionsStillAllowsExistingTab(t *testing.T) {
	fm := newFakeMultiplexer()
	fm.tabs["claude-a"] = model.TabDescriptor{Name: "claude-a"}
	fm.tabs["claude-b"] = model.TabDescriptor{Name: "claude-b"}
	m := newTestManager(fm)

	// "a" is already one of the two tabs counted toward the cap, so
	// re-attaching it must not be rejected by the cap check.
	name, existed, err := m.Attach("a")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !existed || name != "claude-a" {
		t.Errorf("name=%q existed=%v, want claude-a/true", name, existed)
	}
}

func TestListOursFiltersByPrefix(t *testing.T) {
	fm := newFakeMultiplexer()
	fm.tabs["claude-a"] = model.TabDescriptor{Name: "claude-a"}
	fm.tabs["other-tool-b"] = model.TabDescriptor{Name: "other-tool-b"}
	m := newTestManager(fm)

	ours, err := m.ListOurs()
	if err != nil {
		t.Fatalf("ListOurs: %v", err)
	}
	if len(ours) != 1 || ours[0].Name != "claude-a" {
		t.Errorf("ListOurs = %+v, want only claude-a", ours)
	}
}

func TestReconcileReturnsOwnedIDs(t *testing.T) {
	fm := newFakeMultiplexer()
	fm.tabs["claude-a"] = model.TabDescriptor{Name: "claude-a"}
	fm.tabs["other-tool-b"] = model.TabDescriptor{Name: "other-tool-b"}
	m := newTestManager(fm)

	killed := false
	m.killOrphans = func(string) { killed = true }

	ids := m.Reconcile()
	if !killed {
		t.Errorf("Reconcile did not invoke the orphan-kill step")
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("Reconcile ids = %v, want [a]", ids)
	}
}

func TestAttachSerializesPerID(t *testing.T) {
	fm := newFakeMultiplexer()
	m := newTestManager(fm)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Attach("shared-session")
			errs[i] = err
		}(i)
	}
	wg.Wait()

	// Concurrent attaches for the same id are serialized, so only the first
	// creates the tab and tmux.create is invoked exactly once.
	if fm.createN != 1 {
		t.Errorf("createN = %d, want exactly 1 under concurrent attach", fm.createN)
	}
}
