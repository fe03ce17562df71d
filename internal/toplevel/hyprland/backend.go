// Package hyprland tracks toplevels through Hyprland's socket IPC. Hyprland
// does not minimize windows; a special workspace stands in for it.
package hyprland

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/rs/zerolog"
)

// hiddenWorkspace is where minimized windows are parked
const hiddenWorkspace = "special:quake"

// Backend is a Hyprland IPC client
type Backend struct {
	dir string
	log zerolog.Logger

	mu        sync.Mutex
	ctx       context.Context
	requester *requester
}

// New creates a backend. An empty dir resolves the instance directory from
// HYPRLAND_INSTANCE_SIGNATURE on each connect.
func New(dir string, log zerolog.Logger) *Backend {
	return &Backend{dir: dir, log: log}
}

func (b *Backend) Name() string { return "hyprland" }

// Run reads socket2 events until ctx is done or the socket closes
func (b *Backend) Run(ctx context.Context, sink toplevel.Sink) error {
	dir := b.dir
	if dir == "" {
		var err error
		if dir, err = InstanceDir(); err != nil {
			return err
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", filepath.Join(dir, eventSocket))
	if err != nil {
		return fmt.Errorf("connect to hyprland events: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	req := &requester{path: filepath.Join(dir, commandSocket)}
	b.mu.Lock()
	b.ctx = ctx
	b.requester = req
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.requester = nil
		b.mu.Unlock()
	}()

	if err := b.sync(ctx, req, sink); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		ev, ok := parseEvent(scanner.Text())
		if !ok {
			b.log.Debug().Str("line", scanner.Text()).Msg("unparsable hyprland event")
			continue
		}
		if err := b.handle(ctx, req, ev, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hyprland events: %w", err)
	}
	return fmt.Errorf("hyprland event socket closed")
}

func (b *Backend) handle(ctx context.Context, req *requester, ev event, sink toplevel.Sink) error {
	switch ev.name {
	case "openwindow":
		rec, ok := openWindow(ev.data)
		if !ok {
			b.log.Warn().Str("data", ev.data).Msg("malformed openwindow event")
			return nil
		}
		sink(toplevel.DiscoveredEvent(rec))

	case "closewindow":
		sink(toplevel.Event{Kind: toplevel.Closed, Handle: handleFor(ev.data)})

	case "windowtitlev2":
		addr, title, ok := strings.Cut(ev.data, ",")
		if !ok {
			return nil
		}
		sink(toplevel.Event{Kind: toplevel.TitleChanged, Handle: handleFor(addr), Title: title})

	case "activewindowv2", "movewindowv2", "minimized", "changefloatingmode":
		return b.sync(ctx, req, sink)
	}
	return nil
}

// sync queries all clients and the focused window and emits a snapshot
func (b *Backend) sync(ctx context.Context, req *requester, sink toplevel.Sink) error {
	var clients []client
	if err := req.json(ctx, "clients", &clients); err != nil {
		return err
	}
	var active activeWindow
	if err := req.json(ctx, "activewindow", &active); err != nil {
		// no focused window returns an empty object
		b.log.Debug().Err(err).Msg("activewindow query failed")
	}
	sink(toplevel.SyncedEvent(records(clients, active.Address)))
	return nil
}

func (b *Backend) connected() (context.Context, *requester, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requester == nil {
		return nil, nil, toplevel.ErrNotConnected
	}
	return b.ctx, b.requester, nil
}

// Activate brings the window to the active workspace and focuses it
func (b *Backend) Activate(h toplevel.Handle) error {
	addr, err := addressOf(h)
	if err != nil {
		return err
	}
	ctx, req, err := b.connected()
	if err != nil {
		return err
	}

	var ws workspace
	if err := req.json(ctx, "activeworkspace", &ws); err != nil {
		return err
	}
	return req.dispatch(ctx,
		fmt.Sprintf("movetoworkspacesilent %d,address:%s", ws.ID, addr),
		fmt.Sprintf("focuswindow address:%s", addr),
	)
}

// Minimize parks the window on the hidden special workspace
func (b *Backend) Minimize(h toplevel.Handle) error {
	addr, err := addressOf(h)
	if err != nil {
		return err
	}
	ctx, req, err := b.connected()
	if err != nil {
		return err
	}
	return req.dispatch(ctx, fmt.Sprintf("movetoworkspacesilent %s,address:%s", hiddenWorkspace, addr))
}
