// Package daemon wires the session index, multiplexer manager, bridge
// registry, and API server together into a single long-running process,
// and manages that process's lifecycle (start in background, stop,
// status) from the CLI.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Norio691/claude-relay/internal/api"
	"github.com/Norio691/claude-relay/internal/bridge"
	"github.com/Norio691/claude-relay/internal/config"
	"github.com/Norio691/claude-relay/internal/index"
	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/internal/mux"
)

const (
	pidFileName    = "daemon.pid"
	startupTimeout = 5 * time.Second
	stopTimeout    = 5 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// ErrAlreadyRunning is returned by Start when a live daemon process
// already holds the PID file.
var ErrAlreadyRunning = errors.New("daemon already running")

func pidFilePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pidFileName), nil
}

func readPID() (int, error) {
	path, err := pidFilePath()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

func writePID(pid int) error {
	path, err := pidFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func removePIDFile() {
	path, err := pidFilePath()
	if err != nil {
		return
	}
	_ = os.Remove(path)
}

// processAlive reports whether pid names a running process, using the
// zero-signal probe (works without permission to actually kill it).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ValidateReadyToRun checks the fatal-class preconditions (§7 "Fatal"):
// config must be loadable, the PSK must be non-empty, and the session
// directory must exist or be creatable.
func ValidateReadyToRun() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cannot read config: %w", err)
	}
	if cfg.PSK() == "" {
		return fmt.Errorf("config key auth.psk is empty")
	}
	if err := os.MkdirAll(cfg.SessionDir(), 0o755); err != nil {
		return fmt.Errorf("cannot create claude.session_dir %s: %w", cfg.SessionDir(), err)
	}
	return nil
}

// Start forks a detached daemon-run child and blocks until its status
// endpoint responds or startupTimeout elapses.
func Start() error {
	if pid, err := readPID(); err == nil && processAlive(pid) {
		return ErrAlreadyRunning
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve own executable: %w", err)
	}

	cmd := exec.Command(exe, "daemon-run")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if err := writePID(cmd.Process.Pid); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	_ = cmd.Process.Release()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !waitForStatus(cfg, startupTimeout) {
		return fmt.Errorf("daemon did not become ready within %s", startupTimeout)
	}
	return nil
}

func waitForStatus(cfg *config.Config, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s/api/status", cfg.Addr())
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(pollInterval)
	}
	return false
}

// Stop sends SIGTERM to the daemon process and waits for it to exit.
func Stop() error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("daemon is not running")
	}
	if !processAlive(pid) {
		removePIDFile()
		return fmt.Errorf("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			removePIDFile()
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon did not exit within %s", stopTimeout)
}

// Status reports whether the daemon is running and, if so, its listen
// address.
func Status() (running bool, addr string, err error) {
	pid, err := readPID()
	if err != nil || !processAlive(pid) {
		return false, "", nil
	}
	cfg, err := config.Load()
	if err != nil {
		return true, "", err
	}
	return true, cfg.Addr(), nil
}

// Run loads config and serves in the foreground until ctx is canceled or
// a termination signal arrives. Intended for the daemon-run subcommand;
// Start execs a fresh process running this.
func Run(ctx context.Context) error {
	logger := log.Default()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cannot read config: %w", err)
	}

	cachePath, err := config.CachePath()
	if err != nil {
		return err
	}

	ix := index.New(cfg.SessionDir(), cachePath, logger)
	if err := ix.Start(); err != nil {
		return fmt.Errorf("failed to start session index: %w", err)
	}
	defer ix.Stop()

	heartbeat, maxMissed := cfg.Heartbeat()
	bridges := bridge.NewRegistry(heartbeat, maxMissed, logger)
	bridges.Start()
	defer bridges.Stop()

	cols, rows := cfg.DefaultSize()
	manager := mux.New(mux.Config{
		Prefix:        cfg.TabPrefix(),
		CLIBinary:     cfg.ClaudeBinary(),
		DefaultCols:   cols,
		DefaultRows:   rows,
		MaxSessions:   cfg.MaxSessions(),
		MinCLIVersion: cfg.MinCLIVersion(),
		CLIVersion: func(id string) string {
			meta, ok := ix.Get(id)
			if !ok {
				return ""
			}
			return meta.CLIVersion
		},
	}, bridges.HasActive, logger)

	// A reconciled tab survived a prior daemon's death with no bridge yet
	// attached to it; mark it detached rather than guessing active.
	for _, id := range manager.Reconcile() {
		ix.SetMultiplexerStatus(id, model.StatusDetached)
	}

	server := api.New(cfg, ix, manager, bridges, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
