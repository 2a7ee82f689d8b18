package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Norio691/claude-relay/internal/apierr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleTerminal upgrades the connection, authenticates it (query token
// or bearer header, since a browser terminal client cannot easily set a
// header on a WebSocket handshake), resolves the multiplexer tab name,
// and hands the connection to the bridge registry. It does not create or
// check for the tab itself.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cols, rows := s.parseSize(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "id", id, "err", err)
		return
	}

	if !constantTimeEqual(presentedPSK(r), s.cfg.PSK()) {
		closeWith(conn, apierr.CloseUnauthorized, "missing or invalid credentials")
		return
	}

	// Tab preparation (conflict/cap checks, tmux creation) already ran in
	// the preceding POST /api/sessions/:id/attach; re-running it here would
	// re-check for a competing host process against the CLI that POST just
	// started inside the tab, and false-positive a conflict. Only the tab
	// name is needed.
	tabName := s.manager.TabName(id)

	s.bridges.Attach(id, tabName, conn, cols, rows)
}

func (s *Server) parseSize(r *http.Request) (cols, rows int) {
	cols, rows = s.cfg.DefaultSize()
	if v, err := strconv.Atoi(r.URL.Query().Get("cols")); err == nil && v > 0 {
		cols = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("rows")); err == nil && v > 0 {
		rows = v
	}
	return cols, rows
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
