package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/Norio691/claude-relay/internal/apierr"
	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/internal/schema"
)

var uuidRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// validSessionID checks the exact lowercase pattern the external
// interface documents (which already rejects uppercase UUIDs) and, as a
// backstop, that the string parses as a UUID at all.
func validSessionID(id string) bool {
	if !uuidRE.MatchString(id) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apierr.Error) {
	writeJSON(w, err.HTTPStatus(), err)
}

// tabStatusIndex maps a tab name to its live multiplexer status, from one
// fresh listAll query shared across an entire response.
type tabStatusIndex map[string]model.MultiplexerStatus

func (s *Server) freshTabStatus() tabStatusIndex {
	idx := make(tabStatusIndex)
	tabs, err := s.manager.ListAll()
	if err != nil {
		s.log.Warn("failed to list multiplexer tabs", "err", err)
		return idx
	}
	for _, t := range tabs {
		if t.Attached {
			idx[t.Name] = model.StatusActive
		} else {
			idx[t.Name] = model.StatusDetached
		}
	}
	return idx
}

func (idx tabStatusIndex) statusFor(tabName string) model.MultiplexerStatus {
	if st, ok := idx[tabName]; ok {
		return st
	}
	return model.StatusNone
}

type statusResponse struct {
	Version         string             `json:"version"`
	CLIVersion      string             `json:"cli_version"`
	ActiveSessions  int                `json:"active_sessions"`
	Tabs            []statusTab        `json:"tabs"`
	UptimeSeconds   float64            `json:"uptime_seconds"`
}

type statusTab struct {
	ID       string `json:"id"`
	Attached bool   `json:"attached"`
	Created  string `json:"created"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.manager.ListOurs()
	if err != nil {
		s.log.Warn("status: failed to list tabs", "err", err)
	}

	active := 0
	out := make([]statusTab, 0, len(tabs))
	for _, t := range tabs {
		if t.Attached {
			active++
		}
		out = append(out, statusTab{ID: t.Name, Attached: t.Attached, Created: t.Created.Format(rfc3339)})
	}

	cliVersion := ""
	for _, m := range s.index.List() {
		if m.CLIVersion != "" {
			cliVersion = m.CLIVersion
			break
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:        currentVersion(),
		CLIVersion:     cliVersion,
		ActiveSessions: active,
		Tabs:           out,
		UptimeSeconds:  timeSinceSeconds(s.startedAt),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tabStatus := s.freshTabStatus()
	entries := s.index.List()
	for i := range entries {
		entries[i].MultiplexerStatus = tabStatus.statusFor(s.manager.TabName(entries[i].ID))
	}
	writeJSON(w, http.StatusOK, entries)
}

type sessionDetail struct {
	model.SessionMetadata
	HasActiveConnection bool `json:"has_active_connection"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validSessionID(id) {
		writeError(w, apierr.ErrInvalidID)
		return
	}

	meta, ok := s.index.Get(id)
	if !ok {
		writeError(w, apierr.ErrNotFound)
		return
	}
	meta.MultiplexerStatus = s.freshTabStatus().statusFor(s.manager.TabName(id))

	writeJSON(w, http.StatusOK, sessionDetail{
		SessionMetadata:     meta,
		HasActiveConnection: s.bridges.HasActive(id),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	grouped := s.index.ByProject()
	out := make([]model.ProjectSummary, 0, len(grouped))
	for path, sessions := range grouped {
		if len(sessions) == 0 {
			continue
		}
		latest := sessions[0].Timestamp
		for _, m := range sessions[1:] {
			if m.Timestamp.After(latest) {
				latest = m.Timestamp
			}
		}
		out = append(out, model.ProjectSummary{
			ProjectPath:     path,
			ProjectName:     projectName(path),
			SessionCount:    len(sessions),
			LatestTimestamp: latest,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LatestTimestamp.After(out[j].LatestTimestamp)
	})
	writeJSON(w, http.StatusOK, out)
}

type attachResponse struct {
	WSURL    string `json:"ws_url"`
	TabName  string `json:"tab_name"`
	Existed  bool   `json:"existed"`
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if !s.limiter.allow(id) {
		writeError(w, apierr.ErrRateLimited)
		return
	}

	tabName, existed, err := s.manager.Attach(id)
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			writeError(w, apiErr)
			return
		}
		s.log.Error("attach failed", "id", id, "err", err)
		writeError(w, apierr.New(apierr.CodeInternal, "failed to attach session", "retry, or check the daemon log"))
		return
	}

	writeJSON(w, http.StatusOK, attachResponse{
		WSURL:   "/terminal/" + id,
		TabName: tabName,
		Existed: existed,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	doc, err := schema.Get(label)
	if err != nil {
		writeError(w, apierr.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}
