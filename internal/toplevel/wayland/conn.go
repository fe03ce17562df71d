// Package wayland is a small Wayland client: the wire codec plus the display,
// registry and callback plumbing every protocol binding needs. Protocol
// objects themselves are handled by the backends that bind them.
package wayland

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// DisplayID is the wl_display singleton
const DisplayID = 1

// Core opcodes
const (
	DisplaySync        = 0
	DisplayGetRegistry = 1
	DisplayError       = 0
	DisplayDeleteID    = 1

	RegistryBind         = 0
	RegistryGlobal       = 0
	RegistryGlobalRemove = 1

	CallbackDone = 0
)

// SeatInterface is the global toplevel activation needs
const SeatInterface = "wl_seat"

// SocketPath resolves the compositor socket from WAYLAND_DISPLAY
func SocketPath() (string, error) {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtime, display), nil
}

// Global is one registry advertisement
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Conn is one client connection. Write is safe from any goroutine; every
// other method belongs to the goroutine that reads events.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex

	nextID    uint32
	registry  uint32
	callbacks map[uint32]func()
	globals   map[string]Global
}

// Dial connects to the compositor at path, or to WAYLAND_DISPLAY when path
// is empty
func Dial(ctx context.Context, path string) (*Conn, error) {
	if path == "" {
		var err error
		if path, err = SocketPath(); err != nil {
			return nil, err
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to wayland display %s: %w", path, err)
	}
	return NewConn(conn), nil
}

// NewConn wraps an established socket
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:      conn,
		r:         bufio.NewReader(conn),
		nextID:    DisplayID + 1,
		callbacks: make(map[uint32]func()),
		globals:   make(map[string]Global),
	}
}

func (c *Conn) Close() error { return c.conn.Close() }

// NewID allocates a client object id
func (c *Conn) NewID() uint32 {
	id := c.nextID
	c.nextID++
	return id
}

// Write sends msgs in one write
func (c *Conn) Write(msgs ...[]byte) error {
	var buf []byte
	for _, m := range msgs {
		buf = append(buf, m...)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("wayland write: %w", err)
	}
	return nil
}

// GetRegistry builds the wl_display.get_registry request. Globals are
// collected as the compositor announces them.
func (c *Conn) GetRegistry() []byte {
	c.registry = c.NewID()
	return NewMessage(DisplayID, DisplayGetRegistry).Uint(c.registry).Bytes()
}

// Sync builds a wl_display.sync request; fn runs when the compositor answers
func (c *Conn) Sync(fn func()) []byte {
	id := c.NewID()
	c.callbacks[id] = fn
	return NewMessage(DisplayID, DisplaySync).Uint(id).Bytes()
}

// Global returns the first advertised global implementing iface
func (c *Conn) Global(iface string) (Global, bool) {
	g, ok := c.globals[iface]
	return g, ok
}

// Globals lists everything advertised so far
func (c *Conn) Globals() []Global {
	out := make([]Global, 0, len(c.globals))
	for _, g := range c.globals {
		out = append(out, g)
	}
	return out
}

// Bind builds a wl_registry.bind request for g at no more than maxVersion,
// returning the new object id and the version used
func (c *Conn) Bind(g Global, maxVersion uint32) (uint32, uint32, []byte) {
	id := c.NewID()
	version := min(g.Version, maxVersion)
	msg := NewMessage(c.registry, RegistryBind).
		Uint(g.Name).String(g.Interface).Uint(version).Uint(id).
		Bytes()
	return id, version, msg
}

// Next reads one event. Display, registry and callback events are handled
// here and reported with ok false; anything else is returned for the caller
// to dispatch. A wl_display.error ends the connection with an error.
func (c *Conn) Next() (m Message, ok bool, err error) {
	m, err = ReadMessage(c.r)
	if err != nil {
		return Message{}, false, fmt.Errorf("wayland read: %w", err)
	}

	d := NewDecoder(m)
	switch {
	case m.Sender == DisplayID:
		switch m.Opcode {
		case DisplayError:
			obj, code, msg := d.Uint(), d.Uint(), d.String()
			return Message{}, false, fmt.Errorf("wayland protocol error on object %d (code %d): %s", obj, code, msg)
		case DisplayDeleteID:
			delete(c.callbacks, d.Uint())
		}
		return m, false, nil

	case c.registry != 0 && m.Sender == c.registry:
		switch m.Opcode {
		case RegistryGlobal:
			g := Global{Name: d.Uint(), Interface: d.String(), Version: d.Uint()}
			if d.Err() != nil {
				return Message{}, false, fmt.Errorf("registry global: %w", d.Err())
			}
			if _, seen := c.globals[g.Interface]; !seen {
				c.globals[g.Interface] = g
			}
		case RegistryGlobalRemove:
			name := d.Uint()
			for iface, g := range c.globals {
				if g.Name == name {
					delete(c.globals, iface)
				}
			}
		}
		return m, false, nil
	}

	if fn, pending := c.callbacks[m.Sender]; pending {
		if m.Opcode == CallbackDone {
			delete(c.callbacks, m.Sender)
			fn()
		}
		return m, false, nil
	}
	return m, true, nil
}

// ListGlobals connects, performs one registry roundtrip and returns the
// advertised globals
func ListGlobals(ctx context.Context, path string) ([]Global, error) {
	c, err := Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	done := false
	if err := c.Write(c.GetRegistry(), c.Sync(func() { done = true })); err != nil {
		return nil, err
	}
	for !done {
		if _, _, err := c.Next(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
	return c.Globals(), nil
}
