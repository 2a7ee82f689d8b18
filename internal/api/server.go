// Package api exposes the daemon's REST and WebSocket surface: session
// and project queries, attach, and the terminal upgrade endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Norio691/claude-relay/internal/config"
	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/internal/version"
)

// sessionIndex is the subset of *internal/index.Index this package calls.
// Declared here, on the consumer side, so tests can substitute a fake.
type sessionIndex interface {
	List() []model.SessionMetadata
	Get(id string) (model.SessionMetadata, bool)
	ByProject() map[string][]model.SessionMetadata
}

// multiplexerManager is the subset of *internal/mux.Manager this package
// calls. handleTerminal deliberately calls only TabName, never Attach —
// see its doc comment.
type multiplexerManager interface {
	TabName(id string) string
	Attach(id string) (tabName string, existed bool, err error)
	ListAll() ([]model.TabDescriptor, error)
	ListOurs() ([]model.TabDescriptor, error)
}

// bridgeRegistry is the subset of *internal/bridge.Registry this package
// calls.
type bridgeRegistry interface {
	HasActive(id string) bool
	Attach(id, tabName string, conn *websocket.Conn, cols, rows int)
}

// Server bundles everything a request handler needs: the config, the
// session index, the multiplexer manager, the bridge registry, and a
// logger. It holds no additional mutable state of its own beyond the
// attach rate limiter.
type Server struct {
	cfg       *config.Config
	index     sessionIndex
	manager   multiplexerManager
	bridges   bridgeRegistry
	log       *log.Logger
	startedAt time.Time

	limiter *rateLimiter
}

// New constructs a Server. Call Handler to obtain the http.Handler to
// serve.
func New(cfg *config.Config, ix sessionIndex, manager multiplexerManager, bridges bridgeRegistry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:       cfg,
		index:     ix,
		manager:   manager,
		bridges:   bridges,
		log:       logger.WithPrefix("api"),
		startedAt: time.Now(),
		limiter:   newRateLimiter(5 * time.Second),
	}
}

// Handler builds the routed, authenticated http.Handler.
func (s *Server) Handler() http.Handler {
	routes := http.NewServeMux()

	routes.HandleFunc("GET /api/status", s.handleStatus)
	routes.HandleFunc("GET /api/sessions", s.handleListSessions)
	routes.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	routes.HandleFunc("GET /api/projects", s.handleListProjects)
	routes.HandleFunc("POST /api/sessions/{id}/attach", s.handleAttach)
	routes.HandleFunc("GET /api/schema/{label}", s.handleSchema)
	routes.HandleFunc("GET /terminal/{id}", s.handleTerminal)

	return s.withAuth(s.withRequestLog(routes))
}

// withRequestLog tags each request with a correlation id, so a handler's
// own warn/error log lines can be tied back to the request that caused
// them without threading a context value through every call.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "req_id", reqID, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// currentVersion returns the relay's build version, read from
// version.Version on every status request rather than cached.
func currentVersion() string {
	return version.Version
}
