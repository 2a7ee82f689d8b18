package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// runAttach invokes the daemon's attach endpoint to ensure the tmux tab
// exists, then execs `tmux attach-session` directly against it. This is
// a local-terminal convenience distinct from the remote WebSocket path
// (/terminal/:id), useful when the CLI is running on the same host as
// the daemon.
func runAttach(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: claude-relay attach <session-id>")
	}
	id := args[0]

	client, err := newDaemonClient()
	if err != nil {
		return err
	}
	result, err := client.attach(id)
	if err != nil {
		return fmt.Errorf("failed to attach session: %w", err)
	}

	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("tmux not found on PATH: %w", err)
	}

	argv := []string{"tmux", "attach-session", "-t", result.TabName}
	env := os.Environ()
	return syscall.Exec(tmuxPath, argv, env)
}
