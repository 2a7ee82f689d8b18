package api

import (
	"github.com/Norio691/claude-relay/internal/apierr"
	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/internal/schema"
)

// Schema labels served by GET /api/schema/:label.
const (
	schemaLabelSession = "session"
	schemaLabelStatus  = "status"
	schemaLabelProject = "project"
	schemaLabelError   = "error"
)

func init() {
	schema.Register(schemaLabelSession, sessionDetail{})
	schema.Register(schemaLabelStatus, statusResponse{})
	schema.Register(schemaLabelProject, model.ProjectSummary{})
	schema.Register(schemaLabelError, apierr.Error{})
}
