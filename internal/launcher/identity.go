package launcher

import (
	"path/filepath"
)

// DefaultMarker is the class / app-id given to the spawned terminal
const DefaultMarker = "cosmic-ext-quake-terminal"

// MarkerStrategy says how the marker is passed to a terminal
type MarkerStrategy int

const (
	// ClassFlag passes "--class <marker>"
	ClassFlag MarkerStrategy = iota
	// AppIDFlag passes "--app-id=<marker>"
	AppIDFlag
	// FixedAppID is for terminals that ignore class flags; the marker is the
	// terminal's own app-id and only single-instance mode is disabled.
	FixedAppID
)

func (s MarkerStrategy) String() string {
	switch s {
	case ClassFlag:
		return "class-flag"
	case AppIDFlag:
		return "app-id-flag"
	case FixedAppID:
		return "fixed-app-id"
	}
	return "unknown"
}

const ghosttyAppID = "com.mitchellh.ghostty"

// Identity describes one spawn of the terminal
type Identity struct {
	Binary    string
	ExtraArgs []string
	Strategy  MarkerStrategy
	Marker    string
}

// IdentityFor derives the identity for a configured terminal command.
// The strategy is picked from the binary's base name.
func IdentityFor(command string, extraArgs []string) Identity {
	id := Identity{
		Binary:    command,
		ExtraArgs: append([]string{}, extraArgs...),
		Strategy:  ClassFlag,
		Marker:    DefaultMarker,
	}

	switch filepath.Base(command) {
	case "ghostty":
		id.Strategy = FixedAppID
		id.Marker = ghosttyAppID
	case "foot":
		id.Strategy = AppIDFlag
	case "cosmic-term", "alacritty", "kitty", "wezterm":
		id.Strategy = ClassFlag
	}

	return id
}

// MarkerArgs returns the identification flags for the strategy
func (id Identity) MarkerArgs() []string {
	switch id.Strategy {
	case AppIDFlag:
		return []string{"--app-id=" + id.Marker}
	case FixedAppID:
		return []string{"--gtk-single-instance=false"}
	default:
		return []string{"--class", id.Marker}
	}
}

// Argv returns the arguments after the binary: marker flags, then extra args verbatim
func (id Identity) Argv() []string {
	args := id.MarkerArgs()
	return append(args, id.ExtraArgs...)
}
