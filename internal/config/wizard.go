package config

import (
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// IsInteractive reports whether stdin and stdout are both attached to a
// terminal, the signal used to decide whether first-run setup should show
// an editable form instead of silently accepting defaults.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RunSetupForm lets the operator confirm or edit the generated defaults
// before the config file is written. The PSK itself is never shown in the
// form; it is generated and stored without prompting.
func RunSetupForm(cfg *Config) error {
	host := cfg.Host
	port := strconv.Itoa(cfg.Port)
	sessionDir := cfg.Claude.SessionDir
	maxSessions := strconv.Itoa(cfg.Claude.MaxSessions)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("claude-relay first-run setup").
				Description("A pre-shared key has been generated. Review the defaults below, or accept them as-is."),
			huh.NewInput().
				Title("Bind address").
				Value(&host),
			huh.NewInput().
				Title("Port").
				Value(&port).
				Validate(validatePort),
			huh.NewInput().
				Title("Session log directory").
				Value(&sessionDir),
			huh.NewInput().
				Title("Maximum concurrent multiplexer tabs").
				Value(&maxSessions).
				Validate(validatePositiveInt),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Host = host
	cfg.Claude.SessionDir = sessionDir
	if p, err := strconv.Atoi(port); err == nil {
		cfg.Port = p
	}
	if m, err := strconv.Atoi(maxSessions); err == nil {
		cfg.Claude.MaxSessions = m
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errInvalidInt
	}
	if n < 1 || n > 65535 {
		return errPortRange
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errInvalidInt
	}
	if n < 1 {
		return errNotPositive
	}
	return nil
}

var (
	errInvalidInt  = errString("must be a whole number")
	errPortRange   = errString("must be between 1 and 65535")
	errNotPositive = errString("must be at least 1")
)

type errString string

func (e errString) Error() string { return string(e) }
