// Package waylandtest provides a scripted compositor for backend tests
package waylandtest

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wayland"
)

// Server plays the compositor side of one connection on a Unix socket
type Server struct {
	Path string

	t        *testing.T
	ln       net.Listener
	conn     net.Conn
	requests chan wayland.Message
}

// NewServer listens on a fresh socket. The directory lives outside
// t.TempDir so the path stays under the sun_path limit.
func NewServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "wl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "wayland-test")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return &Server{Path: path, t: t, ln: ln, requests: make(chan wayland.Message, 64)}
}

// Accept waits for the client and starts collecting its requests
func (s *Server) Accept() {
	s.t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		s.t.Fatal(err)
	}
	s.conn = conn
	s.t.Cleanup(func() { conn.Close() })

	go func() {
		r := bufio.NewReader(conn)
		for {
			m, err := wayland.ReadMessage(r)
			if err != nil {
				close(s.requests)
				return
			}
			s.requests <- m
		}
	}()
}

// Expect reads the next request and fails unless it matches
func (s *Server) Expect(object uint32, opcode uint16) *wayland.Decoder {
	s.t.Helper()
	select {
	case m, ok := <-s.requests:
		if !ok {
			s.t.Fatal("client disconnected")
		}
		if m.Sender != object || m.Opcode != opcode {
			s.t.Fatalf("request = (%d, %d), want (%d, %d)", m.Sender, m.Opcode, object, opcode)
		}
		return wayland.NewDecoder(m)
	case <-time.After(5 * time.Second):
		s.t.Fatalf("timed out waiting for request (%d, %d)", object, opcode)
	}
	return nil
}

// Send writes events to the client
func (s *Server) Send(msgs ...*wayland.Encoder) {
	s.t.Helper()
	for _, m := range msgs {
		if _, err := s.conn.Write(m.Bytes()); err != nil {
			s.t.Fatal(err)
		}
	}
}

// Registry answers get_registry and the sync that follows it by
// advertising globals. It returns the registry id.
func (s *Server) Registry(globals ...wayland.Global) uint32 {
	s.t.Helper()
	registry := s.Expect(wayland.DisplayID, wayland.DisplayGetRegistry).Uint()
	cb := s.Expect(wayland.DisplayID, wayland.DisplaySync).Uint()

	for _, g := range globals {
		s.Send(wayland.NewMessage(registry, wayland.RegistryGlobal).Uint(g.Name).String(g.Interface).Uint(g.Version))
	}
	s.Send(
		wayland.NewMessage(cb, wayland.CallbackDone).Uint(0),
		wayland.NewMessage(wayland.DisplayID, wayland.DisplayDeleteID).Uint(cb),
	)
	return registry
}

// ExpectBind reads a bind of g and returns the new object id and the
// requested version
func (s *Server) ExpectBind(registry uint32, g wayland.Global) (uint32, uint32) {
	s.t.Helper()
	d := s.Expect(registry, wayland.RegistryBind)
	name, iface, version, id := d.Uint(), d.String(), d.Uint(), d.Uint()
	if d.Err() != nil {
		s.t.Fatalf("bind: %v", d.Err())
	}
	if name != g.Name || iface != g.Interface {
		s.t.Fatalf("bind = (%d, %s), want (%d, %s)", name, iface, g.Name, g.Interface)
	}
	return id, version
}

// Roundtrip waits for the next sync, runs each fn, then answers it
func (s *Server) Roundtrip(fns ...func()) {
	s.t.Helper()
	cb := s.Expect(wayland.DisplayID, wayland.DisplaySync).Uint()
	for _, fn := range fns {
		fn()
	}
	s.Send(wayland.NewMessage(cb, wayland.CallbackDone).Uint(0))
}
