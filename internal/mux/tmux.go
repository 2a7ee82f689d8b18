package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Norio691/claude-relay/internal/model"
	"github.com/Norio691/claude-relay/pkg/shellutil"
)

// externalCommandTimeout bounds every invocation of tmux/pgrep/pkill;
// none of them are retried internally.
const externalCommandTimeout = 5 * time.Second

// multiplexer is the subset of tmuxClient the Manager depends on; tests
// substitute a fake so Attach's conflict logic can be exercised without an
// actual tmux binary on PATH.
type multiplexer interface {
	listAll() ([]model.TabDescriptor, error)
	exists(name string) bool
	create(name, id string, cols, rows int) error
	kill(name string)
}

// tmuxClient wraps the external tmux binary with the exact argv the
// daemon relies on. It holds no state; every call is a fresh subprocess.
type tmuxClient struct {
	cliBinary string
}

func newTmuxClient(cliBinary string) *tmuxClient {
	return &tmuxClient{cliBinary: cliBinary}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), externalCommandTimeout)
}

// listAll runs `tmux list-sessions -F "#{session_name}\t#{session_attached}\t#{session_created}"`
// and parses the tab-separated output into tab descriptors.
func (c *tmuxClient) listAll() ([]model.TabDescriptor, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}\t#{session_attached}\t#{session_created}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// "no server running on socket" is not a real failure; it means
		// there are simply no sessions yet.
		if strings.Contains(stderr.String(), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w: %s", err, stderr.String())
	}

	var tabs []model.TabDescriptor
	for _, line := range strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}
		attached := fields[1] != "0"
		createdUnix, err := strconv.ParseInt(fields[2], 10, 64)
		created := time.Time{}
		if err == nil {
			created = time.Unix(createdUnix, 0)
		}
		tabs = append(tabs, model.TabDescriptor{
			Name:     fields[0],
			Attached: attached,
			Created:  created,
		})
	}
	return tabs, nil
}

// exists runs `tmux has-session -t <name>`. Any error (no such session,
// tmux not installed, ...) is reported as false.
func (c *tmuxClient) exists(name string) bool {
	ctx, cancel := withTimeout()
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", name)
	return cmd.Run() == nil
}

// create runs `tmux new-session -d -s <name> -x <cols> -y <rows> "<cli_binary> --resume <id>"`.
func (c *tmuxClient) create(name, id string, cols, rows int) error {
	ctx, cancel := withTimeout()
	defer cancel()

	command := fmt.Sprintf("%s --resume %s", shellutil.Quote(c.cliBinary), shellutil.Quote(id))
	args := []string{
		"new-session",
		"-d",
		"-s", name,
		"-x", strconv.Itoa(cols),
		"-y", strconv.Itoa(rows),
		command,
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux new-session: %w: %s", err, stderr.String())
	}
	return nil
}

// kill runs `tmux kill-session -t <name>`. Absence of the tab is not an
// error: any failure is swallowed; this is a best-effort kill.
func (c *tmuxClient) kill(name string) {
	ctx, cancel := withTimeout()
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name)
	_ = cmd.Run()
}

// killOrphanAttaches runs `pkill -f "tmux attach-session -t <prefix>-"` to
// clean up attach-child processes left behind by a prior daemon. Errors
// are ignored: an empty match set exits non-zero and is not a failure.
func killOrphanAttaches(prefix string) {
	ctx, cancel := withTimeout()
	defer cancel()

	pattern := fmt.Sprintf("tmux attach-session -t %s-", prefix)
	cmd := exec.CommandContext(ctx, "pkill", "-f", pattern)
	_ = cmd.Run()
}

// processConflict runs `pgrep -f "<cli_binary>.*--resume.*<escaped id>"`.
// Non-empty stdout means a competing host-side process already has this
// session open; a non-zero exit with no output means no conflict.
func processConflict(cliBinary, id string) bool {
	ctx, cancel := withTimeout()
	defer cancel()

	pattern := processMatchPattern(cliBinary, id)
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run()
	return strings.TrimSpace(stdout.String()) != ""
}

// processMatchPattern builds the pgrep regex matching a host-side CLI
// process that has this session id open via --resume, escaping both the
// binary name and the id so neither can inject regex metacharacters.
func processMatchPattern(cliBinary, id string) string {
	return regexp.QuoteMeta(cliBinary) + ".*--resume.*" + regexp.QuoteMeta(id)
}
