// Package sway tracks toplevels through sway's i3-compatible IPC. Sway has no
// minimized state; the scratchpad stands in for it.
package sway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/rs/zerolog"
)

type windowEvent struct {
	Change    string `json:"change"`
	Container node   `json:"container"`
}

// Backend is a sway IPC client
type Backend struct {
	socketPath string
	log        zerolog.Logger

	mu  sync.Mutex
	cmd *ipcConn
}

// New creates a backend. An empty socketPath reads SWAYSOCK on each connect.
func New(socketPath string, log zerolog.Logger) *Backend {
	return &Backend{socketPath: socketPath, log: log}
}

func (b *Backend) Name() string { return "sway" }

// Run subscribes to window events on one connection and keeps a second one
// for commands and tree queries
func (b *Backend) Run(ctx context.Context, sink toplevel.Sink) error {
	path := b.socketPath
	if path == "" {
		var err error
		if path, err = SocketPath(); err != nil {
			return err
		}
	}

	cmd, err := dial(path)
	if err != nil {
		return err
	}
	events, err := dial(path)
	if err != nil {
		cmd.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		events.Close()
		cmd.Close()
	})
	defer stop()
	defer events.Close()
	defer cmd.Close()

	if err := events.subscribe("window"); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.cmd = nil
		b.mu.Unlock()
	}()

	if err := b.sync(sink); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	for {
		typ, payload, err := readMessage(events.r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("i3-ipc read: %w", err)
		}
		if typ != eventWindow {
			continue
		}

		var ev windowEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.log.Warn().Err(err).Msg("malformed window event")
			continue
		}
		if err := b.handle(ev, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (b *Backend) handle(ev windowEvent, sink toplevel.Sink) error {
	c := &ev.Container
	switch ev.Change {
	case "new":
		sink(toplevel.DiscoveredEvent(c.record(false)))
	case "close":
		sink(toplevel.Event{Kind: toplevel.Closed, Handle: handleFor(c.ID)})
	case "title":
		sink(toplevel.Event{Kind: toplevel.TitleChanged, Handle: handleFor(c.ID), Title: c.Name})
	case "focus", "move", "floating", "fullscreen_mode":
		// Focus and scratchpad moves change state for more than one window
		return b.sync(sink)
	}
	return nil
}

// sync fetches the tree and emits it as a snapshot
func (b *Backend) sync(sink toplevel.Sink) error {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return toplevel.ErrNotConnected
	}
	root, err := b.cmd.tree()
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("get tree: %w", err)
	}
	sink(toplevel.SyncedEvent(views(root)))
	return nil
}

// Activate shows the window from the scratchpad if it is hidden there, then
// focuses it
func (b *Backend) Activate(h toplevel.Handle) error {
	id, err := conID(h)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return toplevel.ErrNotConnected
	}

	root, err := b.cmd.tree()
	if err != nil {
		return fmt.Errorf("get tree: %w", err)
	}
	rec, ok := find(root, id)
	if !ok {
		return fmt.Errorf("%w: %s", toplevel.ErrStaleHandle, h)
	}

	if rec.Minimized {
		if err := b.cmd.command(fmt.Sprintf("[con_id=%d] scratchpad show", id)); err != nil {
			return err
		}
	}
	return b.cmd.command(fmt.Sprintf("[con_id=%d] focus", id))
}

// Minimize moves the window to the scratchpad
func (b *Backend) Minimize(h toplevel.Handle) error {
	id, err := conID(h)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return toplevel.ErrNotConnected
	}
	return b.cmd.command(fmt.Sprintf("[con_id=%d] move scratchpad", id))
}
