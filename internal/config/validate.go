package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Terminal.Command) == "" {
		return fmt.Errorf("terminal: missing command")
	}
	for i, arg := range c.Terminal.Args {
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("terminal: arg %d contains a NUL byte", i)
		}
	}

	switch c.Compositor.Backend {
	case BackendAuto, BackendCosmic, BackendWlr, BackendSway, BackendHyprland:
	default:
		return fmt.Errorf("compositor: unknown backend %q (want auto, cosmic, wlr, sway or hyprland)", c.Compositor.Backend)
	}

	switch c.IPC.Transport {
	case TransportSocket, TransportDBus:
	default:
		return fmt.Errorf("ipc: unknown transport %q (want socket or dbus)", c.IPC.Transport)
	}
	if c.IPC.SocketPath != "" && c.IPC.Transport != TransportSocket {
		return fmt.Errorf("ipc: socketPath only applies to the socket transport")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}
