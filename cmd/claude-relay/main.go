// Command claude-relay is the CLI entry point: it starts/stops/inspects
// the background daemon and offers thin session convenience commands
// that talk to the daemon's REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Norio691/claude-relay/internal/config"
	"github.com/Norio691/claude-relay/internal/daemon"
	"github.com/Norio691/claude-relay/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "start":
		err = runStart()
	case "daemon-run":
		err = daemon.Run(context.Background())
	case "stop":
		err = runStop()
	case "status":
		err = runStatus()
	case "version", "-v", "--version":
		fmt.Printf("claude-relay v%s\n", version.Version)
	case "config":
		err = runConfig(args)
	case "list":
		err = runList(args)
	case "attach":
		err = runAttach(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStart() error {
	if err := daemon.ValidateReadyToRun(); err != nil {
		return err
	}
	if err := daemon.Start(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Println("claude-relay daemon is already running")
			return nil
		}
		return err
	}
	fmt.Println("claude-relay daemon started")
	return nil
}

func runStop() error {
	if err := daemon.Stop(); err != nil {
		return err
	}
	fmt.Println("claude-relay daemon stopped")
	return nil
}

func runStatus() error {
	running, addr, err := daemon.Status()
	if err != nil {
		return err
	}
	if !running {
		fmt.Println("claude-relay daemon is not running")
		os.Exit(1)
	}
	fmt.Println("claude-relay daemon is running")
	fmt.Printf("Listening: %s\n", addr)
	return nil
}

func runConfig(args []string) error {
	if len(args) < 1 || args[0] != "init" {
		return fmt.Errorf("usage: claude-relay config init")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if config.IsInteractive() {
		if err := config.RunSetupForm(cfg); err != nil {
			return err
		}
	}
	return config.Save(cfg)
}

func printUsage() {
	fmt.Println("claude-relay - attach a browser terminal to a Claude Code session")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  claude-relay <command>")
	fmt.Println()
	fmt.Println("Daemon Commands:")
	fmt.Println("  start       Start the daemon in background")
	fmt.Println("  stop        Stop the daemon")
	fmt.Println("  status      Show daemon status")
	fmt.Println("  daemon-run  Run the daemon in foreground (for debugging)")
	fmt.Println()
	fmt.Println("Session Commands:")
	fmt.Println("  list          List known sessions")
	fmt.Println("  attach <id>   Attach to a session's tmux tab directly")
	fmt.Println()
	fmt.Println("Other:")
	fmt.Println("  config init  Run the interactive setup form")
	fmt.Println("  version      Show version")
	fmt.Println("  help         Show this help message")
}
