// Package bridge owns the bidirectional byte stream between one remote
// WebSocket connection and one pseudo-terminal attached to a multiplexer
// tab. A bridge enforces single-attachment, output backpressure, liveness,
// and guaranteed PTY teardown.
package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

const (
	batchInterval     = 16 * time.Millisecond
	backpressureLimit = 64 * 1024
	dropBufferLimit   = 1 * 1024 * 1024
	killGrace         = 5 * time.Second
)

const (
	closeAlreadyAttached = 4409
	closeInternal        = 4500
	closeNormal          = 1000
)

type teardownReason int

const (
	reasonPTYExit teardownReason = iota
	reasonSocketClose
	reasonSocketError
	reasonDaemonStop
	reasonReap
)

// bridge is one RUNNING/CLEANED state machine instance for a single
// session id, per the attach procedure and teardown contract.
type bridge struct {
	id      string
	tabName string
	conn    *websocket.Conn
	ptmx    *os.File
	cmd     *exec.Cmd

	createdAt time.Time
	registry  *Registry

	mu        sync.Mutex
	cleanedUp bool

	bufMu        sync.Mutex
	buf          []byte
	batchPending bool

	queuedBytes int64
	missedPongs int32

	waitDone chan struct{}
	stopCh   chan struct{}
}

func newBridge(id, tabName string, conn *websocket.Conn, registry *Registry) *bridge {
	return &bridge{
		id:        id,
		tabName:   tabName,
		conn:      conn,
		registry:  registry,
		createdAt: time.Now(),
		waitDone:  make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// spawn starts the PTY running `tmux attach-session -t <tabName>`, cwd
// $HOME (falling back to /), inheriting the daemon's environment.
func (b *bridge) spawn(cols, rows int) error {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/"
	}

	cmd := exec.Command("tmux", "attach-session", "-t", b.tabName)
	cmd.Dir = home
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("spawn pty: %w", err)
	}

	b.ptmx = ptmx
	b.cmd = cmd
	go func() {
		_ = cmd.Wait()
		close(b.waitDone)
	}()
	return nil
}

// run wires the four data flows and blocks until the bridge is torn down.
// Callers launch it in its own goroutine.
func (b *bridge) run(heartbeatSeconds, maxMissedPongs int) {
	b.conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&b.missedPongs, 0)
		return nil
	})

	go b.ptyReadPump()
	go b.socketReadPump()
	go b.heartbeatLoop(heartbeatSeconds, maxMissedPongs)
}

// ptyReadPump copies PTY output into the batching buffer, reassembling
// UTF-8 sequences across read boundaries.
func (b *bridge) ptyReadPump() {
	buf := make([]byte, 8192)
	var pending []byte

	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			var data []byte
			if len(pending) > 0 {
				data = append(append([]byte{}, pending...), buf[:n]...)
				pending = nil
			} else {
				data = append([]byte{}, buf[:n]...)
			}

			validLen := findValidUTF8Boundary(data)
			if validLen < len(data) {
				pending = append([]byte{}, data[validLen:]...)
				data = data[:validLen]
			}
			if len(data) > 0 {
				b.enqueue(data)
			}
		}
		if err != nil {
			if len(pending) > 0 {
				b.enqueue(pending)
			}
			b.teardown(reasonPTYExit)
			return
		}
	}
}

// enqueue appends a chunk to the batching buffer and arms the batch timer
// on first enqueue, per the accumulate-then-flush contract.
func (b *bridge) enqueue(chunk []byte) {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()

	if len(b.buf)+len(chunk) > dropBufferLimit {
		b.buf = nil
	}
	b.buf = append(b.buf, chunk...)

	if !b.batchPending {
		b.batchPending = true
		time.AfterFunc(batchInterval, b.flush)
	}
}

// flush sends the accumulated buffer as one binary frame, unless the
// socket already has too much queued, in which case it reschedules.
func (b *bridge) flush() {
	b.bufMu.Lock()
	if len(b.buf) == 0 {
		b.batchPending = false
		b.bufMu.Unlock()
		return
	}
	if atomic.LoadInt64(&b.queuedBytes) > backpressureLimit {
		b.bufMu.Unlock()
		time.AfterFunc(batchInterval, b.flush)
		return
	}

	data := b.buf
	b.buf = nil
	b.batchPending = false
	b.bufMu.Unlock()

	atomic.AddInt64(&b.queuedBytes, int64(len(data)))
	err := b.conn.WriteMessage(websocket.BinaryMessage, data)
	atomic.AddInt64(&b.queuedBytes, -int64(len(data)))
	if err != nil {
		b.teardown(reasonSocketError)
	}
}

// socketReadPump forwards binary frames verbatim as PTY input and parses
// text frames as resize control messages.
func (b *bridge) socketReadPump() {
	for {
		msgType, data, err := b.conn.ReadMessage()
		if err != nil {
			b.teardown(reasonSocketClose)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if _, err := b.ptmx.Write(data); err != nil {
				b.teardown(reasonSocketError)
				return
			}
		case websocket.TextMessage:
			b.handleControlFrame(data)
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

func (b *bridge) handleControlFrame(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "resize" || msg.Cols <= 0 || msg.Rows <= 0 {
		return
	}
	_ = pty.Setsize(b.ptmx, &pty.Winsize{Cols: uint16(msg.Cols), Rows: uint16(msg.Rows)})
}

// heartbeatLoop pings the socket every heartbeatSeconds and forces it
// closed if too many pongs are missed in a row.
func (b *bridge) heartbeatLoop(heartbeatSeconds, maxMissedPongs int) {
	ticker := time.NewTicker(time.Duration(heartbeatSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			closed := b.cleanedUp
			b.mu.Unlock()
			if closed {
				return
			}

			missed := atomic.AddInt32(&b.missedPongs, 1)
			if int(missed) > maxMissedPongs {
				b.teardown(reasonSocketError)
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := b.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.teardown(reasonSocketError)
				return
			}
		}
	}
}

// teardown is idempotent: only the first caller (for whatever reason)
// does any work; a reaper or a second data-flow failure sees cleanedUp
// already true and returns immediately.
func (b *bridge) teardown(reason teardownReason) {
	b.mu.Lock()
	if b.cleanedUp {
		b.mu.Unlock()
		return
	}
	if !b.registry.removeIfCurrent(b.id, b) {
		b.mu.Unlock()
		return
	}
	b.cleanedUp = true
	b.mu.Unlock()

	close(b.stopCh)

	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Signal(syscall.SIGTERM)
		time.AfterFunc(killGrace, func() {
			select {
			case <-b.waitDone:
			default:
				_ = b.cmd.Process.Signal(syscall.SIGKILL)
			}
		})
	}

	if reason == reasonPTYExit {
		deadline := time.Now().Add(time.Second)
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeNormal, "Terminal session ended"), deadline)
	}
	_ = b.conn.Close()
	if b.ptmx != nil {
		_ = b.ptmx.Close()
	}
}

// findValidUTF8Boundary returns the length of data up to the last
// complete UTF-8 character, so a chunk split mid-sequence is never sent.
func findValidUTF8Boundary(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	if utf8.Valid(data) {
		return len(data)
	}

	for i := len(data) - 1; i >= 0 && i >= len(data)-4; i-- {
		b := data[i]
		if b&0xC0 != 0x80 {
			if b < 0x80 {
				return i + 1
			}
			var seqLen int
			switch {
			case b&0xE0 == 0xC0:
				seqLen = 2
			case b&0xF0 == 0xE0:
				seqLen = 3
			case b&0xF8 == 0xF0:
				seqLen = 4
			default:
				continue
			}
			if remaining := len(data) - i; remaining >= seqLen {
				return i + seqLen
			}
			return i
		}
	}
	return 0
}
