// Package activation makes the daemon a per-session singleton and carries
// toggle requests from short-lived CLI invocations to it.
//
// A transport either claims the well-known name (this process becomes the
// daemon) or reports ErrAlreadyClaimed, in which case the caller forwards its
// request to the holder and exits.
package activation

import (
	"context"
	"errors"
	"fmt"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/config"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/rs/zerolog"
)

const (
	// AppID is the well-known activation name
	AppID = "com.github.m0rf30.CosmicExtQuakeTerminal"
	// ObjectPath is the D-Bus object path derived from AppID
	ObjectPath = "/com/github/m0rf30/CosmicExtQuakeTerminal"
	// SocketName is the socket file name under $XDG_RUNTIME_DIR
	SocketName = "cosmic-ext-quake-terminal.sock"
)

// ErrAlreadyClaimed means another daemon holds the activation name
var ErrAlreadyClaimed = errors.New("activation name already claimed")

// Handler receives requests from clients. Toggle must not block on the
// resulting visibility change.
type Handler interface {
	Toggle()
	Status(ctx context.Context) (models.Status, error)
}

// Claim is a held activation name. Close releases it.
type Claim interface {
	Close() error
}

// Transport is one IPC mechanism for claiming the name and forwarding
type Transport interface {
	Name() string
	// Claim takes the well-known name and starts serving h. It returns
	// ErrAlreadyClaimed if a live daemon holds it.
	Claim(ctx context.Context, h Handler) (Claim, error)
	// Forward sends a toggle to the daemon holding the name
	Forward(ctx context.Context) error
}

// Querier is implemented by transports that can read the daemon's status
type Querier interface {
	QueryStatus(ctx context.Context) (*models.Status, error)
}

// ClaimOrForward claims the name for h, or forwards a toggle to the existing
// daemon. forwarded is true when the toggle went to another process; the
// caller should then exit.
func ClaimOrForward(ctx context.Context, t Transport, h Handler) (claim Claim, forwarded bool, err error) {
	claim, err = t.Claim(ctx, h)
	if err == nil {
		return claim, false, nil
	}
	if !errors.Is(err, ErrAlreadyClaimed) {
		return nil, false, fmt.Errorf("%s: claim: %w", t.Name(), err)
	}

	if err := t.Forward(ctx); err != nil {
		return nil, false, fmt.Errorf("%s: forward toggle: %w", t.Name(), err)
	}
	return nil, true, nil
}

// NewTransport returns the transport named in the IPC config
func NewTransport(cfg config.IPCConfig, log zerolog.Logger) (Transport, error) {
	switch cfg.Transport {
	case "", config.TransportSocket:
		return NewSocketTransport(cfg.SocketPath, log), nil
	case config.TransportDBus:
		return NewDBusTransport(log), nil
	}
	return nil, fmt.Errorf("unknown ipc transport %q", cfg.Transport)
}
