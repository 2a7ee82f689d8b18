package api

import (
	"path/filepath"
	"time"
)

const rfc3339 = time.RFC3339

func timeSinceSeconds(t time.Time) float64 {
	return time.Since(t).Seconds()
}

// projectName derives a display name from a project path; an empty path
// (a project key that fell back to its hash) has no meaningful basename.
func projectName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
