// Package mux wraps the external tmux binary and enforces the attach
// preconditions for attach: single active bridge, no competing host
// process, and a global session cap.
package mux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Norio691/claude-relay/internal/apierr"
	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/internal/version"
)

// Manager encapsulates all interaction with the external multiplexer and
// serializes attach operations per session id.
type Manager struct {
	tmux  multiplexer
	locks *idLock
	log   *log.Logger

	prefix      string
	cliBinary   string
	defaultCols int
	defaultRows int
	maxSessions int

	// hasActive reports whether a bridge is already serving id. Injected
	// rather than referencing the bridge directly, so the Manager never
	// needs a back-pointer into the bridge registry.
	hasActive func(id string) bool

	// cliVersion looks up the cli_version recorded for id, or "" if
	// unknown. Injected so the Manager never needs a back-pointer into
	// the session index.
	cliVersion func(id string) string
	minCLIVersion string

	// processConflict and killOrphans wrap the package-level pgrep/pkill
	// helpers; tests substitute fakes for both.
	processConflict func(cliBinary, id string) bool
	killOrphans     func(prefix string)
}

// Config bundles the Manager's tunables, read once at construction.
type Config struct {
	Prefix      string
	CLIBinary   string
	DefaultCols int
	DefaultRows int
	MaxSessions int

	// MinCLIVersion, when non-empty, is compared against a session's
	// recorded cli_version at attach time. A lower version only logs a
	// warning; it never blocks attach.
	MinCLIVersion string
	// CLIVersion looks up the cli_version recorded for id. May be nil,
	// in which case the compatibility check is skipped entirely.
	CLIVersion func(id string) string
}

// New constructs a Manager. hasActive must be supplied by the caller
// (normally internal/bridge.Registry.HasActive) once the bridge registry
// exists.
func New(cfg Config, hasActive func(id string) bool, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		tmux:            newTmuxClient(cfg.CLIBinary),
		locks:           newIDLock(),
		log:             logger.WithPrefix("mux"),
		prefix:          cfg.Prefix,
		cliBinary:       cfg.CLIBinary,
		defaultCols:     cfg.DefaultCols,
		defaultRows:     cfg.DefaultRows,
		maxSessions:     cfg.MaxSessions,
		hasActive:       hasActive,
		cliVersion:      cfg.CLIVersion,
		minCLIVersion:   cfg.MinCLIVersion,
		processConflict: processConflict,
		killOrphans:     killOrphanAttaches,
	}
}

// TabName returns the tab name a session id maps to: "<prefix>-<id>".
func (m *Manager) TabName(id string) string {
	return m.prefix + "-" + id
}

// idFromTabName recovers a session id from a tab name this Manager owns,
// or "" if the tab does not belong to this prefix.
func (m *Manager) idFromTabName(name string) string {
	prefix := m.prefix + "-"
	if !strings.HasPrefix(name, prefix) {
		return ""
	}
	return strings.TrimPrefix(name, prefix)
}

// Attach runs the 5-step attach sequence, serialized per id.
func (m *Manager) Attach(id string) (tabName string, existed bool, err error) {
	lockErr := m.locks.acquire(id, func() error {
		if m.hasActive != nil && m.hasActive(id) {
			return apierr.ErrAttached
		}

		m.warnIfOutdated(id)

		if m.processConflict(m.cliBinary, id) {
			return apierr.ErrConflict
		}

		name := m.TabName(id)
		ours, listErr := m.ListOurs()
		if listErr != nil {
			return listErr
		}
		if len(ours) >= m.maxSessions {
			alreadyOurs := false
			for _, t := range ours {
				if t.Name == name {
					alreadyOurs = true
					break
				}
			}
			if !alreadyOurs {
				return apierr.ErrMaxSessions
			}
		}

		if m.tmux.exists(name) {
			tabName, existed = name, true
			return nil
		}

		if createErr := m.tmux.create(name, id, m.defaultCols, m.defaultRows); createErr != nil {
			return fmt.Errorf("create tab: %w", createErr)
		}
		tabName, existed = name, false
		return nil
	})
	return tabName, existed, lockErr
}

// warnIfOutdated logs, but never blocks on, a session whose recorded
// cli_version is older than the configured minimum. Advisory only.
func (m *Manager) warnIfOutdated(id string) {
	if m.cliVersion == nil || m.minCLIVersion == "" {
		return
	}
	observed := m.cliVersion(id)
	if version.IsCLIOutdated(observed, m.minCLIVersion) {
		m.log.Warn("session recorded by an outdated CLI version", "id", id, "observed", observed, "min", m.minCLIVersion)
	}
}

// ListAll returns every tab the multiplexer knows about, ours or not.
func (m *Manager) ListAll() ([]model.TabDescriptor, error) {
	return m.tmux.listAll()
}

// ListOurs returns only tabs whose name carries this Manager's prefix.
func (m *Manager) ListOurs() ([]model.TabDescriptor, error) {
	all, err := m.tmux.listAll()
	if err != nil {
		return nil, err
	}
	var ours []model.TabDescriptor
	for _, t := range all {
		if m.idFromTabName(t.Name) != "" {
			ours = append(ours, t)
		}
	}
	return ours, nil
}

// Kill best-effort kills the tab for id; absence is not an error.
func (m *Manager) Kill(id string) {
	m.tmux.kill(m.TabName(id))
}

// Reconcile runs at daemon start: it kills any attach-child processes a
// prior daemon left behind, then returns the ids of all tabs that
// currently exist, so the Index can mark them detached.
func (m *Manager) Reconcile() []string {
	m.killOrphans(m.prefix)

	ours, err := m.ListOurs()
	if err != nil {
		m.log.Warn("reconcile: failed to list existing tabs", "err", err)
		return nil
	}
	ids := make([]string, 0, len(ours))
	for _, t := range ours {
		if id := m.idFromTabName(t.Name); id != "" {
			ids = append(ids, id)
		}
	}
	m.log.Info("reconciled existing tabs", "count", len(ids))
	return ids
}
