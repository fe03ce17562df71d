package toplevel

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by requests issued while the backend has no
// live compositor connection
var ErrNotConnected = errors.New("compositor backend not connected")

// Sink receives backend events. Backends call it from their reader goroutine.
type Sink func(Event)

// Backend is a compositor's toplevel-management protocol
type Backend interface {
	Requester

	// Name returns the backend name (e.g. "wlr", "sway")
	Name() string

	// Run connects to the compositor and streams events into sink until ctx
	// is done or the connection fails. The first event after connecting is
	// a Synced snapshot so the registry can drop state from earlier
	// connections.
	Run(ctx context.Context, sink Sink) error
}
