package config

// Config is the root configuration structure
type Config struct {
	Terminal   TerminalConfig   `yaml:"terminal" json:"terminal"`
	Compositor CompositorConfig `yaml:"compositor" json:"compositor"`
	IPC        IPCConfig        `yaml:"ipc" json:"ipc"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// TerminalConfig selects the terminal emulator that gets spawned
type TerminalConfig struct {
	Command string   `yaml:"command" json:"command"` // Binary name or path, e.g. "alacritty"
	Args    []string `yaml:"args" json:"args"`       // Appended verbatim after the marker flags
}

// CompositorConfig selects the toplevel protocol backend
type CompositorConfig struct {
	Backend string `yaml:"backend" json:"backend"` // auto, cosmic, wlr, sway or hyprland
}

// IPCConfig selects how toggle requests reach the daemon
type IPCConfig struct {
	Transport  string `yaml:"transport" json:"transport"`                     // socket or dbus
	SocketPath string `yaml:"socketPath,omitempty" json:"socketPath,omitempty"` // Overrides the runtime-dir socket
}

// LoggingConfig controls the daemon log
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

const (
	DefaultTerminal = "cosmic-term"

	BackendAuto     = "auto"
	BackendCosmic   = "cosmic"
	BackendWlr      = "wlr"
	BackendSway     = "sway"
	BackendHyprland = "hyprland"

	TransportSocket = "socket"
	TransportDBus   = "dbus"
)

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	return &Config{
		Terminal: TerminalConfig{
			Command: DefaultTerminal,
			Args:    []string{},
		},
		Compositor: CompositorConfig{Backend: BackendAuto},
		IPC:        IPCConfig{Transport: TransportSocket},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// applyDefaults fills fields left empty by a partial config file
func (c *Config) applyDefaults() {
	def := Default()
	if c.Terminal.Command == "" {
		c.Terminal.Command = def.Terminal.Command
	}
	if c.Terminal.Args == nil {
		c.Terminal.Args = []string{}
	}
	if c.Compositor.Backend == "" {
		c.Compositor.Backend = def.Compositor.Backend
	}
	if c.IPC.Transport == "" {
		c.IPC.Transport = def.IPC.Transport
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
