// Package model holds the shared data types for the session index, the
// multiplexer manager, and the terminal bridge. Nothing in this package
// depends on any of the three.
package model

import "time"

// Role is the speaker of a session's most recent message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// MultiplexerStatus reports the last-observed state of a session's
// multiplexer tab. It is advisory and may be stale between observations.
type MultiplexerStatus string

const (
	StatusActive   MultiplexerStatus = "active"
	StatusDetached MultiplexerStatus = "detached"
	StatusNone     MultiplexerStatus = "none"
)

// SessionMetadata is everything the index knows about one session, derived
// from its log file plus the last-observed multiplexer state.
type SessionMetadata struct {
	ID                 string            `json:"id"`
	ProjectPath        string            `json:"project_path"`
	ProjectHash        string            `json:"project_hash"`
	LastMessagePreview string            `json:"last_message_preview"`
	LastMessageRole    Role              `json:"last_message_role"`
	Timestamp          time.Time         `json:"timestamp"`
	CLIVersion         string            `json:"cli_version"`
	MultiplexerStatus  MultiplexerStatus `json:"multiplexer_status"`
}

// TabDescriptor is one multiplexer tab as reported by the external binary.
type TabDescriptor struct {
	Name     string
	Attached bool
	Created  time.Time
}

// ProjectSummary aggregates every session under one project path.
type ProjectSummary struct {
	ProjectPath     string    `json:"project_path"`
	ProjectName     string    `json:"project_name"`
	SessionCount    int       `json:"session_count"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
}
