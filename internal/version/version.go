// Package version holds the relay's own build version and the CLI version
// compatibility check used by the multiplexer manager.
package version

import "github.com/Masterminds/semver/v3"

// Version is the relay's own build version, set at build time via
// -ldflags "-X". "dev" indicates a local build.
var Version = "dev"

// IsCLIOutdated reports whether observed, a cli_version string extracted
// from a session log, is older than min. An unparsable observed or min
// version is treated as "not outdated" -- this is an advisory check, never
// a hard gate, so a malformed version string must not block attach.
func IsCLIOutdated(observed, min string) bool {
	if observed == "" || min == "" {
		return false
	}
	obs, err := semver.NewVersion(observed)
	if err != nil {
		return false
	}
	minV, err := semver.NewVersion(min)
	if err != nil {
		return false
	}
	return obs.LessThan(minV)
}
