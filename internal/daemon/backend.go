package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/config"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/cosmic"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/hyprland"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/sway"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wayland"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wlr"
	"github.com/rs/zerolog"
)

// detectTimeout bounds the registry roundtrip made while detecting
const detectTimeout = 2 * time.Second

// DetectBackend picks a backend name from the session. Sway and Hyprland do
// not honor minimize requests from the wlr protocol, so they get their own
// IPC backends. Otherwise the compositor's globals decide between cosmic and
// wlr; when the display cannot be queried XDG_CURRENT_DESKTOP breaks the tie.
func DetectBackend(log zerolog.Logger) string {
	switch {
	case os.Getenv("SWAYSOCK") != "":
		return config.BackendSway
	case os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return config.BackendHyprland
	}

	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()
	globals, err := wayland.ListGlobals(ctx, "")
	if err == nil {
		if cosmic.Supported(globals) {
			return config.BackendCosmic
		}
		return config.BackendWlr
	}

	log.Debug().Err(err).Msg("could not list wayland globals")
	for _, desktop := range strings.Split(os.Getenv("XDG_CURRENT_DESKTOP"), ":") {
		if strings.EqualFold(desktop, "COSMIC") {
			return config.BackendCosmic
		}
	}
	return config.BackendWlr
}

// NewBackend creates the named backend; "auto" runs DetectBackend
func NewBackend(name string, log zerolog.Logger) (toplevel.Backend, error) {
	if name == "" || name == config.BackendAuto {
		name = DetectBackend(log)
		log.Debug().Str("backend", name).Msg("detected compositor backend")
	}

	log = log.With().Str("backend", name).Logger()
	switch name {
	case config.BackendCosmic:
		return cosmic.New("", log), nil
	case config.BackendWlr:
		return wlr.New("", log), nil
	case config.BackendSway:
		return sway.New("", log), nil
	case config.BackendHyprland:
		return hyprland.New("", log), nil
	}
	return nil, fmt.Errorf("unknown compositor backend %q", name)
}
