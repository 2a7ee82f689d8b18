package bridge

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const reaperInterval = 60 * time.Second

// Registry is the per-daemon set of active bridges, keyed by session id.
// It is the single source of truth for whether a session currently has an
// active terminal connection.
type Registry struct {
	heartbeatSeconds int
	maxMissedPongs   int
	log              *log.Logger

	mu       sync.Mutex
	bridges  map[string]*bridge
	reaper   *time.Ticker
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(heartbeatSeconds, maxMissedPongs int, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		heartbeatSeconds: heartbeatSeconds,
		maxMissedPongs:   maxMissedPongs,
		log:              logger.WithPrefix("bridge"),
		bridges:          make(map[string]*bridge),
	}
}

// HasActive reports whether a bridge is already serving id. This is the
// single source of truth the Manager's first attach conflict check reads.
func (r *Registry) HasActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bridges[id]
	return ok
}

// Start installs the periodic reaper that guards against lost
// socket-close callbacks.
func (r *Registry) Start() {
	r.reaper = time.NewTicker(reaperInterval)
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.reap()
}

// Stop tears down the reaper and every active bridge, and does not return
// until all of them have completed teardown.
func (r *Registry) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
		<-r.doneCh
	}
	if r.reaper != nil {
		r.reaper.Stop()
	}

	r.mu.Lock()
	all := make([]*bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		all = append(all, b)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range all {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.teardown(reasonDaemonStop)
		}()
	}
	wg.Wait()
}

func (r *Registry) reap() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.reaper.C:
			r.reapDead()
		}
	}
}

// reapDead probes every bridge's socket with a short-deadline control
// write; a socket whose read/write pumps stopped noticing a close (a lost
// callback) fails this probe immediately, and teardown is invoked. A live
// socket accepts the probe like any other heartbeat ping.
func (r *Registry) reapDead() {
	r.mu.Lock()
	candidates := make([]*bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		candidates = append(candidates, b)
	}
	r.mu.Unlock()

	for _, b := range candidates {
		if err := b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			b.teardown(reasonReap)
		}
	}
}

// Attach implements the bridge attach procedure: refuse a second
// connection for an id already active, otherwise spawn the PTY and wire
// the data flows.
func (r *Registry) Attach(id, tabName string, conn *websocket.Conn, cols, rows int) {
	r.mu.Lock()
	if _, exists := r.bridges[id]; exists {
		r.mu.Unlock()
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAlreadyAttached, "Session already has an active terminal connection"),
			deadline)
		_ = conn.Close()
		return
	}

	b := newBridge(id, tabName, conn, r)
	r.bridges[id] = b
	r.mu.Unlock()

	if err := b.spawn(cols, rows); err != nil {
		r.mu.Lock()
		delete(r.bridges, id)
		r.mu.Unlock()
		r.log.Warn("failed to spawn terminal pty", "id", id, "tab", tabName, "err", err)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeInternal, "failed to attach terminal"), deadline)
		_ = conn.Close()
		return
	}

	b.run(r.heartbeatSeconds, r.maxMissedPongs)
}

// removeIfCurrent deletes id from the registry only if the stored bridge
// is still b, reporting whether the deletion happened. This guards
// against a newer bridge having already taken over the id.
func (r *Registry) removeIfCurrent(id string, b *bridge) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bridges[id]
	if !ok || cur != b {
		return false
	}
	delete(r.bridges, id)
	return true
}
